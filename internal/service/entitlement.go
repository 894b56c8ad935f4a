package service

import (
	"context"
	"fmt"
	"time"

	"github.com/reckonhq/reckon/internal/domain/entitlement"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// ResourceCounter recounts the live instances of a countable resource for
// capacity entitlements. Capacity consumption is always a recount of the
// bound resource, never a ledger sum.
type ResourceCounter interface {
	Count(ctx context.Context, subjectID, resourceKind string) (int64, error)
}

// GrantRequest is one idempotent credit
type GrantRequest struct {
	SubjectID   string
	Code        string
	Amount      int64
	EffectiveAt time.Time
	ExpiresAt   *time.Time
	DedupeKey   string
	SourceType  string
	SourceID    string
}

// ConsumeRequest is one idempotent debit
type ConsumeRequest struct {
	SubjectID  string
	Code       string
	Amount     int64
	OccurredAt time.Time
	DedupeKey  string
}

// EntitlementService is the ledger-backed quota engine. Grants and
// consumptions are append-only and dedupe-key guarded; balances are derived
// snapshots recomputed on demand with optimistic version checks.
type EntitlementService interface {
	Grant(ctx context.Context, req *GrantRequest) (*entitlement.Balance, error)
	Consume(ctx context.Context, req *ConsumeRequest) (*entitlement.Balance, error)

	RecomputeBalance(ctx context.Context, subjectID, definitionID string) (*entitlement.Balance, error)

	// CheckAccess reports whether consuming amount more of code is allowed
	// under the definition's enforcement mode.
	CheckAccess(ctx context.Context, subjectID, code string, amount int64) (bool, *entitlement.Balance, error)

	// ListLimitations returns the current balances and lock states
	ListLimitations(ctx context.Context, subjectID string) ([]*entitlement.Balance, error)

	// ApplyPlanGrants inserts the plan's grants for a subject, deduped so
	// replays of the same subscription activation are harmless.
	ApplyPlanGrants(ctx context.Context, subjectID, planID, sourceID string, at time.Time) (int, error)

	// BackfillPlanGrants re-applies grants for a subject's current
	// subscription; used by reconciliation when grants are missing.
	BackfillPlanGrants(ctx context.Context, subjectID string) (int, error)

	// RecomputeDue refreshes balances whose next_change_at has passed
	RecomputeDue(ctx context.Context, limit int) (int, error)
}

type entitlementService struct {
	ServiceParams
}

func NewEntitlementService(params ServiceParams) EntitlementService {
	return &entitlementService{ServiceParams: params}
}

func (s *entitlementService) Grant(ctx context.Context, req *GrantRequest) (*entitlement.Balance, error) {
	def, err := s.EntitlementRepo.GetDefinitionByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	effectiveAt := req.EffectiveAt
	if effectiveAt.IsZero() {
		effectiveAt = time.Now().UTC()
	}

	grant := &entitlement.Grant{
		ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ENTITLEMENT_GRANT),
		SubjectID:    req.SubjectID,
		DefinitionID: def.ID,
		Amount:       req.Amount,
		EffectiveAt:  effectiveAt,
		ExpiresAt:    req.ExpiresAt,
		DedupeKey:    req.DedupeKey,
		SourceType:   req.SourceType,
		SourceID:     req.SourceID,
		CreatedAt:    time.Now().UTC(),
		CreatedBy:    types.GetUserID(ctx),
	}
	if err := grant.Validate(); err != nil {
		return nil, err
	}

	inserted, err := s.LedgerRepo.InsertGrant(ctx, grant)
	if err != nil {
		return nil, err
	}
	if !inserted {
		s.Logger.Debugw("grant replay ignored",
			"subject_id", req.SubjectID,
			"dedupe_key", req.DedupeKey)
	}
	return s.RecomputeBalance(ctx, req.SubjectID, def.ID)
}

func (s *entitlementService) Consume(ctx context.Context, req *ConsumeRequest) (*entitlement.Balance, error) {
	def, err := s.EntitlementRepo.GetDefinitionByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	// hard enforcement happens before the debit lands
	if def.EnforcementMode == types.EnforcementModeHardDeny {
		allowed, balance, err := s.checkAgainst(ctx, def, req.SubjectID, req.Amount)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return balance, ierr.NewError("entitlement limit exceeded").
				WithHint("The requested consumption exceeds the remaining balance").
				WithReportableDetails(map[string]any{
					"code":             def.Code,
					"effective_amount": balance.EffectiveAmount,
					"requested":        req.Amount,
				}).
				Mark(ierr.ErrPermissionDenied)
		}
	}

	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	consumption := &entitlement.Consumption{
		ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ENTITLEMENT_CONSUMPTION),
		SubjectID:    req.SubjectID,
		DefinitionID: def.ID,
		Amount:       req.Amount,
		OccurredAt:   occurredAt,
		DedupeKey:    req.DedupeKey,
		CreatedAt:    time.Now().UTC(),
		CreatedBy:    types.GetUserID(ctx),
	}
	if err := consumption.Validate(); err != nil {
		return nil, err
	}

	inserted, err := s.LedgerRepo.InsertConsumption(ctx, consumption)
	if err != nil {
		return nil, err
	}
	if !inserted {
		s.Logger.Debugw("consumption replay ignored",
			"subject_id", req.SubjectID,
			"dedupe_key", req.DedupeKey)
	}
	return s.RecomputeBalance(ctx, req.SubjectID, def.ID)
}

func (s *entitlementService) CheckAccess(ctx context.Context, subjectID, code string, amount int64) (bool, *entitlement.Balance, error) {
	def, err := s.EntitlementRepo.GetDefinitionByCode(ctx, code)
	if err != nil {
		return false, nil, err
	}
	return s.checkAgainst(ctx, def, subjectID, amount)
}

func (s *entitlementService) checkAgainst(ctx context.Context, def *entitlement.Definition, subjectID string, amount int64) (bool, *entitlement.Balance, error) {
	balance, err := s.RecomputeBalance(ctx, subjectID, def.ID)
	if err != nil {
		return false, nil, err
	}

	switch def.EnforcementMode {
	case types.EnforcementModeSoftWarn:
		return true, balance, nil
	case types.EnforcementModeHardLock:
		// a breach locks creation of new resources, never existing ones
		return balance.LockState != types.LockStateCreationLocked, balance, nil
	default:
		return balance.EffectiveAmount >= amount, balance, nil
	}
}

// RecomputeBalance derives the balance snapshot for (subject, definition)
// from the ledgers, retrying on concurrent-recompute version conflicts.
func (s *entitlementService) RecomputeBalance(ctx context.Context, subjectID, definitionID string) (*entitlement.Balance, error) {
	def, err := s.EntitlementRepo.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		balance, err := s.recomputeOnce(ctx, def, subjectID)
		if err == nil {
			return balance, nil
		}
		if !ierr.IsVersionConflict(err) {
			return nil, err
		}
		s.Logger.Debugw("balance recompute raced, retrying",
			"subject_id", subjectID,
			"definition_id", definitionID,
			"attempt", attempt+1)
	}
	return nil, ierr.NewError("balance recompute kept racing").
		WithHint("Concurrent recomputations persisted faster than this one").
		WithReportableDetails(map[string]any{
			"subject_id":    subjectID,
			"definition_id": definitionID,
		}).
		Mark(ierr.ErrVersionConflict)
}

func (s *entitlementService) recomputeOnce(ctx context.Context, def *entitlement.Definition, subjectID string) (*entitlement.Balance, error) {
	now := time.Now().UTC()
	window := def.ResolveWindow(now)

	var expectedVersion int64
	existing, err := s.BalanceRepo.GetBalance(ctx, subjectID, def.ID, window.Key())
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if existing != nil {
		expectedVersion = existing.Version
	}

	grants, err := s.LedgerRepo.ListGrants(ctx, subjectID, def.ID)
	if err != nil {
		return nil, err
	}

	granted := aggregateGrants(def.AggregationMode, grants, now)

	var consumed int64
	if def.UsesLiveRecount() {
		consumed, err = s.ResourceCounter.Count(ctx, subjectID, def.ResourceKind)
	} else {
		consumed, err = s.LedgerRepo.SumConsumption(ctx, subjectID, def.ID, window)
	}
	if err != nil {
		return nil, err
	}

	effective := granted - consumed
	var overLimit bool
	if def.EntitlementType == types.EntitlementTypeBalance {
		overLimit = effective < 0
	} else {
		overLimit = consumed > granted
	}

	balance := &entitlement.Balance{
		SubjectID:       subjectID,
		DefinitionID:    def.ID,
		WindowKey:       window.Key(),
		GrantedAmount:   granted,
		ConsumedAmount:  consumed,
		EffectiveAmount: effective,
		OverLimit:       overLimit,
		LockState:       def.LockStateFor(overLimit),
		Version:         expectedVersion + 1,
		NextChangeAt:    nextChangeAt(grants, window, now),
		ComputedAt:      now,
		UpdatedAt:       now,
	}
	if existing != nil {
		balance.ID = existing.ID
		balance.CreatedAt = existing.CreatedAt
	} else {
		balance.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ENTITLEMENT_BALANCE)
		balance.CreatedAt = now
	}
	if window.Interval != types.WindowIntervalLifetime {
		start, end := window.Start, window.End
		balance.WindowStart = &start
		balance.WindowEnd = &end
	}

	if err := s.BalanceRepo.UpsertBalance(ctx, balance, expectedVersion); err != nil {
		return nil, err
	}
	return balance, nil
}

func (s *entitlementService) ListLimitations(ctx context.Context, subjectID string) ([]*entitlement.Balance, error) {
	defs, err := s.EntitlementRepo.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	balances := make([]*entitlement.Balance, 0, len(defs))
	for _, def := range defs {
		balance, err := s.RecomputeBalance(ctx, subjectID, def.ID)
		if err != nil {
			return nil, err
		}
		balances = append(balances, balance)
	}
	return balances, nil
}

func (s *entitlementService) ApplyPlanGrants(ctx context.Context, subjectID, planID, sourceID string, at time.Time) (int, error) {
	planEntitlements, err := s.EntitlementRepo.ListPlanEntitlements(ctx, planID)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, pe := range planEntitlements {
		def, err := s.EntitlementRepo.GetDefinition(ctx, pe.DefinitionID)
		if err != nil {
			return applied, err
		}

		window := def.ResolveWindow(at)
		grant := &entitlement.Grant{
			ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ENTITLEMENT_GRANT),
			SubjectID:    subjectID,
			DefinitionID: def.ID,
			Amount:       pe.Amount,
			EffectiveAt:  at,
			DedupeKey:    fmt.Sprintf("plan:%s:src:%s:def:%s:%s", planID, sourceID, def.ID, window.Key()),
			SourceType:   "plan",
			SourceID:     sourceID,
			CreatedAt:    time.Now().UTC(),
			CreatedBy:    types.GetUserID(ctx),
		}
		if window.Interval != types.WindowIntervalLifetime {
			end := window.End
			grant.ExpiresAt = &end
		}
		if err := grant.Validate(); err != nil {
			return applied, err
		}

		inserted, err := s.LedgerRepo.InsertGrant(ctx, grant)
		if err != nil {
			return applied, err
		}
		if inserted {
			applied++
		}
		if _, err := s.RecomputeBalance(ctx, subjectID, def.ID); err != nil {
			return applied, err
		}
	}
	if applied > 0 {
		s.Logger.Infow("applied plan grants",
			"subject_id", subjectID,
			"plan_id", planID,
			"granted", applied)
	}
	return applied, nil
}

func (s *entitlementService) BackfillPlanGrants(ctx context.Context, subjectID string) (int, error) {
	sub, err := s.SubscriptionRepo.GetCurrent(ctx, subjectID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if sub.PlanID == "" {
		return 0, nil
	}
	return s.ApplyPlanGrants(ctx, subjectID, sub.PlanID, sub.ID, sub.CurrentPeriodStart)
}

func (s *entitlementService) RecomputeDue(ctx context.Context, limit int) (int, error) {
	now := time.Now().UTC()
	due, err := s.BalanceRepo.ListDueForRecompute(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	recomputed := 0
	for _, balance := range due {
		if _, err := s.RecomputeBalance(ctx, balance.SubjectID, balance.DefinitionID); err != nil {
			s.Logger.Errorw("scheduled balance recompute failed",
				"error", err,
				"subject_id", balance.SubjectID,
				"definition_id", balance.DefinitionID)
			continue
		}
		recomputed++
	}
	return recomputed, nil
}

// aggregateGrants folds active grants under the definition's aggregation mode
func aggregateGrants(mode types.AggregationMode, grants []*entitlement.Grant, now time.Time) int64 {
	var granted int64
	for _, grant := range grants {
		if !grant.IsActiveAt(now) {
			continue
		}
		switch mode {
		case types.AggregationModeMax:
			if grant.Amount > granted {
				granted = grant.Amount
			}
		case types.AggregationModeBooleanAnyTrue:
			if grant.Amount > 0 {
				granted = 1
			}
		default:
			granted += grant.Amount
		}
	}
	return granted
}

// nextChangeAt is the earliest future moment the balance will change on its
// own: a grant becoming effective, a grant expiring, or the window rolling.
func nextChangeAt(grants []*entitlement.Grant, window types.EntitlementWindow, now time.Time) *time.Time {
	var next *time.Time
	consider := func(t time.Time) {
		if !t.After(now) {
			return
		}
		if next == nil || t.Before(*next) {
			copied := t
			next = &copied
		}
	}
	for _, grant := range grants {
		consider(grant.EffectiveAt)
		if grant.ExpiresAt != nil {
			consider(*grant.ExpiresAt)
		}
	}
	if window.Interval != types.WindowIntervalLifetime {
		consider(window.End)
	}
	return next
}
