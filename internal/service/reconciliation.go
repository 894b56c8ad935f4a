package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/reckonhq/reckon/internal/domain/checkoutsession"
	"github.com/reckonhq/reckon/internal/domain/reconciliation"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/types"
)

const reconcileBatchSize = 50

// ReconciliationService compares local projection state against a provider
// fetch and repairs drift. At most one run per (provider, scope) is active
// at a time, enforced by the run table's partial unique index; a crashed
// run's cursor lets a successor resume instead of restarting.
type ReconciliationService interface {
	// Run starts a new run or resumes an expired one, scanning to completion
	Run(ctx context.Context, provider types.ProviderType, scope types.ReconciliationScope) (*reconciliation.Run, error)
}

type reconciliationService struct {
	ServiceParams
	billing      BillingService
	entitlements EntitlementService
	projections  ProjectionService
}

func NewReconciliationService(
	params ServiceParams,
	billingSvc BillingService,
	entitlementSvc EntitlementService,
	projectionSvc ProjectionService,
) ReconciliationService {
	return &reconciliationService{
		ServiceParams: params,
		billing:       billingSvc,
		entitlements:  entitlementSvc,
		projections:   projectionSvc,
	}
}

func (s *reconciliationService) Run(ctx context.Context, provider types.ProviderType, scope types.ReconciliationScope) (*reconciliation.Run, error) {
	run, err := s.acquireRun(ctx, provider, scope)
	if err != nil || run == nil {
		return nil, err
	}

	if err := s.scan(ctx, run); err != nil {
		summary, _ := json.Marshal(map[string]any{"error": err.Error()})
		now := time.Now().UTC()
		if finishErr := run.Finish(types.ReconciliationStatusFailed, now, summary); finishErr != nil {
			return nil, finishErr
		}
		if updateErr := s.ReconciliationRepo.Update(ctx, run); updateErr != nil {
			return nil, updateErr
		}
		return run, err
	}

	summary, _ := json.Marshal(map[string]any{
		"scanned":        run.ScannedCount,
		"drift_detected": run.DriftDetectedCount,
		"repaired":       run.RepairedCount,
	})
	now := time.Now().UTC()
	if err := run.Finish(types.ReconciliationStatusSucceeded, now, summary); err != nil {
		return nil, err
	}
	if err := s.ReconciliationRepo.Update(ctx, run); err != nil {
		return nil, err
	}

	s.Logger.Infow("reconciliation run finished",
		"run_id", run.ID,
		"provider", provider,
		"scope", scope,
		"scanned", run.ScannedCount,
		"drift_detected", run.DriftDetectedCount,
		"repaired", run.RepairedCount)
	return run, nil
}

// acquireRun returns a leased run to work, or nil when another live runner
// already owns the (provider, scope).
func (s *reconciliationService) acquireRun(ctx context.Context, provider types.ProviderType, scope types.ReconciliationScope) (*reconciliation.Run, error) {
	now := time.Now().UTC()

	active, err := s.ReconciliationRepo.GetActive(ctx, provider, scope)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if active != nil {
		if active.Lease.IsHeld(now) {
			return nil, nil
		}
		// resume a crashed run from its cursor
		active.Lease = active.Lease.Acquire(workerOwner(), now, s.Config.Billing.WorkerLeaseTTL)
		active.UpdatedAt = now
		if err := s.ReconciliationRepo.Update(ctx, active); err != nil {
			if ierr.IsVersionConflict(err) {
				return nil, nil
			}
			return nil, err
		}
		s.Logger.Infow("resumed reconciliation run",
			"run_id", active.ID,
			"provider", provider,
			"scope", scope,
			"cursor", string(active.Cursor))
		return active, nil
	}

	run := &reconciliation.Run{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RECONCILIATION_RUN),
		Provider:  provider,
		Scope:     scope,
		RunStatus: types.ReconciliationStatusRunning,
		StartedAt: now,
		BaseModel: types.GetDefaultBaseModel(ctx),
	}
	run.Lease = run.Lease.Acquire(workerOwner(), now, s.Config.Billing.WorkerLeaseTTL)
	run.RefreshActiveKey()
	if err := run.Validate(); err != nil {
		return nil, err
	}
	if err := s.ReconciliationRepo.Create(ctx, run); err != nil {
		// a concurrent runner created the active run first
		if ierr.IsAlreadyExists(err) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

func (s *reconciliationService) scan(ctx context.Context, run *reconciliation.Run) error {
	var cursor reconciliation.Cursor
	if len(run.Cursor) > 0 {
		if err := json.Unmarshal(run.Cursor, &cursor); err != nil {
			return ierr.WithError(err).
				WithHint("Persisted reconciliation cursor could not be decoded").
				Mark(ierr.ErrSystem)
		}
	}

	for {
		entities, err := s.BillableEntityRepo.ListAfter(ctx, cursor.AfterEntityID, reconcileBatchSize)
		if err != nil {
			return err
		}
		if len(entities) == 0 {
			return nil
		}

		for _, entity := range entities {
			drift, repaired, err := s.reconcileEntity(ctx, run, entity.ID)
			if err != nil {
				return err
			}
			run.ScannedCount++
			run.DriftDetectedCount += drift
			run.RepairedCount += repaired
			cursor.AfterEntityID = entity.ID
		}

		raw, err := json.Marshal(cursor)
		if err != nil {
			return ierr.WithError(err).Mark(ierr.ErrSystem)
		}
		now := time.Now().UTC()
		run.Cursor = raw
		run.Lease = run.Lease.Heartbeat(now, s.Config.Billing.WorkerLeaseTTL)
		run.UpdatedAt = now
		if err := s.ReconciliationRepo.Update(ctx, run); err != nil {
			return err
		}

		if len(entities) < reconcileBatchSize {
			return nil
		}
	}
}

func (s *reconciliationService) reconcileEntity(ctx context.Context, run *reconciliation.Run, entityID string) (drift int, repaired int, err error) {
	switch run.Scope {
	case types.ReconciliationScopeSubscriptions:
		return s.reconcileSubscriptions(ctx, run.Provider, entityID)
	case types.ReconciliationScopeCheckouts:
		return s.reconcileCheckouts(ctx, run.Provider, entityID)
	case types.ReconciliationScopeInvoices:
		return s.reconcileInvoices(ctx, run.Provider, entityID)
	case types.ReconciliationScopeEntitlements:
		return s.reconcileEntitlements(ctx, entityID)
	default:
		return 0, 0, ierr.NewError("unknown reconciliation scope").
			WithReportableDetails(map[string]any{"scope": run.Scope}).
			Mark(ierr.ErrInvalidOperation)
	}
}

// reconcileSubscriptions refreshes the local mirror of the entity's current
// subscription from the provider and flags duplicate current-looking rows.
func (s *reconciliationService) reconcileSubscriptions(ctx context.Context, provider types.ProviderType, entityID string) (int, int, error) {
	sub, err := s.SubscriptionRepo.GetCurrent(ctx, entityID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	if sub.Provider != provider {
		return 0, 0, nil
	}

	client, err := s.Providers.Client(provider)
	if err != nil {
		return 0, 0, err
	}
	remote, err := client.RetrieveSubscription(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		return 0, 0, err
	}

	drift := 0
	if remote.Status != sub.SubscriptionStatus ||
		!remote.CurrentPeriodStart.Equal(sub.CurrentPeriodStart) ||
		!remote.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd) ||
		remote.CancelAtPeriodEnd != sub.CancelAtPeriodEnd {
		drift = 1
		now := time.Now().UTC()
		sub.SubscriptionStatus = remote.Status
		sub.CurrentPeriodStart = remote.CurrentPeriodStart
		sub.CurrentPeriodEnd = remote.CurrentPeriodEnd
		sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
		sub.CancelAt = remote.CancelAt
		if remote.CancelledAt != nil {
			sub.CancelledAt = remote.CancelledAt
		}
		if sub.SubscriptionStatus.IsTerminal() {
			sub.IsCurrent = false
		}
		sub.UpdatedAt = now
		if err := s.SubscriptionRepo.Update(ctx, sub); err != nil {
			return drift, 0, err
		}
		s.Logger.Infow("repaired drifted subscription",
			"subscription_id", sub.ID,
			"billable_entity_id", entityID,
			"provider_status", remote.Status)
	}

	if err := s.projections.FlagDuplicateSubscriptions(ctx, entityID); err != nil {
		return drift, drift, err
	}
	return drift, drift, nil
}

// reconcileCheckouts resolves blocking sessions that missed their webhook:
// open sessions are re-fetched, and recovery_verification_pending sessions
// are verified against the provider's sessions for the operation key.
func (s *reconciliationService) reconcileCheckouts(ctx context.Context, provider types.ProviderType, entityID string) (int, int, error) {
	session, err := s.CheckoutSessionRepo.GetBlocking(ctx, entityID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	if session.Provider != provider {
		return 0, 0, nil
	}

	client, err := s.Providers.Client(provider)
	if err != nil {
		return 0, 0, err
	}

	switch session.SessionStatus {
	case types.CheckoutSessionStatusOpen:
		remote, err := client.RetrieveCheckoutSession(ctx, session.ProviderSessionID)
		if err != nil {
			return 0, 0, err
		}
		return s.settleSessionFromRemote(ctx, session, remote)

	case types.CheckoutSessionStatusRecoveryVerificationPending:
		remotes, err := client.ListCheckoutSessionsByOperationKey(ctx, session.OperationKey)
		if err != nil {
			return 0, 0, err
		}
		if len(remotes) == 0 {
			// the provider call never went through; the slot is free again
			now := time.Now().UTC()
			if err := session.Transition(types.CheckoutSessionStatusAbandoned); err != nil {
				return 1, 0, err
			}
			session.UpdatedAt = now
			if err := s.CheckoutSessionRepo.Update(ctx, session); err != nil {
				return 1, 0, err
			}
			return 1, 1, nil
		}
		return s.settleSessionFromRemote(ctx, session, remotes[0])

	case types.CheckoutSessionStatusCompletedPendingSubscription:
		// waiting on its subscription projection; the pending-reconcile
		// sweep owns this transition
		if _, err := s.billing.ReconcilePendingSessions(ctx, checkoutReconcileBatch); err != nil {
			return 0, 0, err
		}
		return 0, 0, nil
	}
	return 0, 0, nil
}

func (s *reconciliationService) settleSessionFromRemote(ctx context.Context, session *checkoutsession.CheckoutSession, remote *integration.CheckoutSession) (int, int, error) {
	now := time.Now().UTC()
	var target types.CheckoutSessionStatus
	switch remote.Status {
	case "complete", "completed", "paid":
		target = types.CheckoutSessionStatusCompletedPendingSubscription
	case "expired", "canceled", "cancelled":
		target = types.CheckoutSessionStatusExpired
	default:
		return 0, 0, nil
	}
	if target == types.CheckoutSessionStatusExpired &&
		session.SessionStatus == types.CheckoutSessionStatusRecoveryVerificationPending {
		target = types.CheckoutSessionStatusAbandoned
	}

	if remote.ProviderCustomerID != "" {
		session.ProviderCustomerID = remote.ProviderCustomerID
	}
	if remote.ProviderSubscriptionID != "" {
		session.ProviderSubscriptionID = remote.ProviderSubscriptionID
	}
	if session.ProviderSessionID == "" {
		session.ProviderSessionID = remote.ID
	}
	if err := session.Transition(target); err != nil {
		return 1, 0, err
	}
	if target == types.CheckoutSessionStatusCompletedPendingSubscription && session.CompletedAt == nil {
		session.CompletedAt = &now
	}
	session.UpdatedAt = now
	if err := s.CheckoutSessionRepo.Update(ctx, session); err != nil {
		return 1, 0, err
	}
	s.Logger.Infow("repaired drifted checkout session",
		"session_id", session.ID,
		"status", session.SessionStatus,
		"provider_status", remote.Status)
	return 1, 1, nil
}

// reconcileInvoices re-fetches the entity's non-terminal invoices
func (s *reconciliationService) reconcileInvoices(ctx context.Context, provider types.ProviderType, entityID string) (int, int, error) {
	invoices, err := s.InvoiceRepo.ListByEntity(ctx, entityID, types.NewDefaultQueryFilter())
	if err != nil {
		return 0, 0, err
	}

	client, err := s.Providers.Client(provider)
	if err != nil {
		return 0, 0, err
	}

	drift, repaired := 0, 0
	for _, inv := range invoices {
		if inv.Provider != provider || inv.InvoiceStatus.IsTerminal() {
			continue
		}
		remote, err := client.RetrieveInvoice(ctx, inv.ProviderInvoiceID)
		if err != nil {
			return drift, repaired, err
		}
		if remote.Status == inv.InvoiceStatus &&
			remote.AmountDue == inv.AmountDue &&
			remote.AmountPaid == inv.AmountPaid {
			continue
		}
		drift++
		inv.InvoiceStatus = remote.Status
		inv.AmountDue = remote.AmountDue
		inv.AmountPaid = remote.AmountPaid
		inv.UpdatedAt = time.Now().UTC()
		if err := s.InvoiceRepo.Update(ctx, inv); err != nil {
			return drift, repaired, err
		}
		repaired++
	}
	return drift, repaired, nil
}

// reconcileEntitlements re-applies plan grants for entities whose current
// subscription is missing them; the grant dedupe keys make this idempotent.
func (s *reconciliationService) reconcileEntitlements(ctx context.Context, entityID string) (int, int, error) {
	granted, err := s.entitlements.BackfillPlanGrants(ctx, entityID)
	if err != nil {
		return 0, 0, err
	}
	if granted == 0 {
		return 0, 0, nil
	}
	s.Logger.Infow("backfilled missing plan grants",
		"billable_entity_id", entityID,
		"granted", granted)
	return granted, granted, nil
}
