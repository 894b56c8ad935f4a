package entitlement

import (
	"time"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// Definition is a typed quota/capacity/balance/state concept, e.g.
// "projects.max" or "calculations/month".
type Definition struct {
	ID              string                `db:"id" json:"id"`
	Code            string                `db:"code" json:"code"`
	Name            string                `db:"name" json:"name"`
	EntitlementType types.EntitlementType `db:"entitlement_type" json:"entitlement_type"`
	AggregationMode types.AggregationMode `db:"aggregation_mode" json:"aggregation_mode"`
	EnforcementMode types.EnforcementMode `db:"enforcement_mode" json:"enforcement_mode"`

	// Metered quotas aggregate consumption over a calendar window; all other
	// types are lifetime.
	WindowInterval types.WindowInterval `db:"window_interval" json:"window_interval"`
	WindowAnchor   *time.Time           `db:"window_anchor" json:"window_anchor"`

	// ResourceKind names the countable resource for capacity definitions
	// whose consumption is a live recount rather than a ledger sum.
	ResourceKind string `db:"resource_kind" json:"resource_kind"`

	types.BaseModel
}

func (d *Definition) Validate() error {
	if d.Code == "" {
		return ierr.NewError("code is required").
			WithHint("Please provide an entitlement code").
			Mark(ierr.ErrValidation)
	}
	if err := d.EntitlementType.Validate(); err != nil {
		return err
	}
	if err := d.AggregationMode.Validate(); err != nil {
		return err
	}
	if err := d.EnforcementMode.Validate(); err != nil {
		return err
	}
	switch d.EntitlementType {
	case types.EntitlementTypeMeteredQuota:
		if d.WindowInterval == "" || d.WindowInterval == types.WindowIntervalLifetime {
			return ierr.NewError("metered quotas require a calendar window").
				WithHint("Please provide a window interval for metered quotas").
				WithReportableDetails(map[string]any{"code": d.Code}).
				Mark(ierr.ErrValidation)
		}
	case types.EntitlementTypeCapacity:
		if d.ResourceKind == "" {
			return ierr.NewError("capacity entitlements require a resource kind").
				WithHint("Please name the countable resource for this entitlement").
				WithReportableDetails(map[string]any{"code": d.Code}).
				Mark(ierr.ErrValidation)
		}
	}
	if d.WindowInterval != "" {
		if err := d.WindowInterval.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// UsesLiveRecount reports whether consumption comes from recounting the
// bound resource instead of summing the consumption ledger. This asymmetry
// between capacity and metered-quota semantics is intentional.
func (d *Definition) UsesLiveRecount() bool {
	return d.EntitlementType == types.EntitlementTypeCapacity
}

// ResolveWindow returns the aggregation window containing at. A non-nil
// WindowAnchor repeats windows from the anchor instead of calendar
// boundaries.
func (d *Definition) ResolveWindow(at time.Time) types.EntitlementWindow {
	if d.EntitlementType != types.EntitlementTypeMeteredQuota {
		return types.EntitlementWindow{Interval: types.WindowIntervalLifetime}
	}
	if d.WindowAnchor != nil && !d.WindowAnchor.IsZero() {
		return types.ResolveAnchoredWindow(d.WindowInterval, *d.WindowAnchor, at)
	}
	return types.ResolveWindow(d.WindowInterval, at)
}

// LockStateFor derives the enforcement outcome from an over-limit flag
func (d *Definition) LockStateFor(overLimit bool) types.LockState {
	if !overLimit {
		return types.LockStateUnlocked
	}
	switch d.EnforcementMode {
	case types.EnforcementModeHardLock:
		// A capacity breach locks creation of new resources, never existing ones
		return types.LockStateCreationLocked
	case types.EnforcementModeHardDeny:
		return types.LockStateDenied
	default:
		return types.LockStateWarned
	}
}

// Grant is an immutable, append-only credit to a subject for a definition.
// DedupeKey guarantees idempotent re-application from migrations, plan
// assignment, or provider events.
type Grant struct {
	ID           string     `db:"id" json:"id"`
	SubjectID    string     `db:"subject_id" json:"subject_id"`
	DefinitionID string     `db:"definition_id" json:"definition_id"`
	Amount       int64      `db:"amount" json:"amount"`
	EffectiveAt  time.Time  `db:"effective_at" json:"effective_at"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expires_at"`
	DedupeKey    string     `db:"dedupe_key" json:"dedupe_key"`
	SourceType   string     `db:"source_type" json:"source_type"`
	SourceID     string     `db:"source_id" json:"source_id"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	CreatedBy    string     `db:"created_by" json:"created_by"`
}

func (g *Grant) Validate() error {
	if g.SubjectID == "" || g.DefinitionID == "" {
		return ierr.NewError("subject_id and definition_id are required").
			WithHint("A grant must name a subject and a definition").
			Mark(ierr.ErrValidation)
	}
	if g.DedupeKey == "" {
		return ierr.NewError("dedupe_key is required").
			WithHint("Grants must carry a dedupe key for idempotent re-application").
			Mark(ierr.ErrValidation)
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(g.EffectiveAt) {
		return ierr.NewError("expires_at must be after effective_at").
			WithHint("Grant expiry must come after it becomes effective").
			WithReportableDetails(map[string]any{
				"effective_at": g.EffectiveAt,
				"expires_at":   g.ExpiresAt,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsActiveAt reports whether the grant credits the balance at t
func (g *Grant) IsActiveAt(t time.Time) bool {
	if t.Before(g.EffectiveAt) {
		return false
	}
	return g.ExpiresAt == nil || t.Before(*g.ExpiresAt)
}

// Consumption is an immutable, append-only debit, deduped by key
type Consumption struct {
	ID           string    `db:"id" json:"id"`
	SubjectID    string    `db:"subject_id" json:"subject_id"`
	DefinitionID string    `db:"definition_id" json:"definition_id"`
	Amount       int64     `db:"amount" json:"amount"`
	OccurredAt   time.Time `db:"occurred_at" json:"occurred_at"`
	DedupeKey    string    `db:"dedupe_key" json:"dedupe_key"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	CreatedBy    string    `db:"created_by" json:"created_by"`
}

func (c *Consumption) Validate() error {
	if c.SubjectID == "" || c.DefinitionID == "" {
		return ierr.NewError("subject_id and definition_id are required").
			WithHint("A consumption must name a subject and a definition").
			Mark(ierr.ErrValidation)
	}
	if c.DedupeKey == "" {
		return ierr.NewError("dedupe_key is required").
			WithHint("Consumptions must carry a dedupe key").
			Mark(ierr.ErrValidation)
	}
	if c.Amount < 0 {
		return ierr.NewError("amount must not be negative").
			WithHint("Consumption amounts are non-negative").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Balance is the mutable recomputed snapshot per (subject, definition,
// window). Version increments on every upsert for optimistic-concurrency
// detection of concurrent recomputes; NextChangeAt tells the scheduler when
// the balance will change without polling.
type Balance struct {
	ID              string          `db:"id" json:"id"`
	SubjectID       string          `db:"subject_id" json:"subject_id"`
	DefinitionID    string          `db:"definition_id" json:"definition_id"`
	WindowKey       string          `db:"window_key" json:"window_key"`
	WindowStart     *time.Time      `db:"window_start" json:"window_start"`
	WindowEnd       *time.Time      `db:"window_end" json:"window_end"`
	GrantedAmount   int64           `db:"granted_amount" json:"granted_amount"`
	ConsumedAmount  int64           `db:"consumed_amount" json:"consumed_amount"`
	EffectiveAmount int64           `db:"effective_amount" json:"effective_amount"`
	OverLimit       bool            `db:"over_limit" json:"over_limit"`
	LockState       types.LockState `db:"lock_state" json:"lock_state"`
	Version         int64           `db:"version" json:"version"`
	NextChangeAt    *time.Time      `db:"next_change_at" json:"next_change_at"`
	ComputedAt      time.Time       `db:"computed_at" json:"computed_at"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// PlanEntitlement binds a definition to a plan with the amount granted while
// a subscription to that plan is active.
type PlanEntitlement struct {
	ID           string `db:"id" json:"id"`
	PlanID       string `db:"plan_id" json:"plan_id"`
	DefinitionID string `db:"definition_id" json:"definition_id"`
	Amount       int64  `db:"amount" json:"amount"`
	types.BaseModel
}

func (pe *PlanEntitlement) Validate() error {
	if pe.PlanID == "" || pe.DefinitionID == "" {
		return ierr.NewError("plan_id and definition_id are required").
			WithHint("A plan entitlement must bind a plan to a definition").
			Mark(ierr.ErrValidation)
	}
	if pe.Amount < 0 {
		return ierr.NewError("amount must not be negative").
			WithHint("Plan entitlement amounts are non-negative").
			Mark(ierr.ErrValidation)
	}
	return nil
}
