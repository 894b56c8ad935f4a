package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/reckonhq/reckon/internal/domain/remediation"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// RemediationService repairs duplicate provider subscriptions: it cancels
// the duplicate at the provider and marks the local row terminal. Rows are
// leased so exactly one worker acts on a duplicate at a time, and the cancel
// itself is idempotent at the provider (cancelling a cancelled subscription
// is a no-op).
type RemediationService interface {
	// ProcessDue leases and works due remediations; returns how many were
	// resolved this pass.
	ProcessDue(ctx context.Context, limit int) (int, error)

	// Process runs a single remediation to completion or rescheduling
	Process(ctx context.Context, id string) error
}

type remediationService struct {
	ServiceParams
}

func NewRemediationService(params ServiceParams) RemediationService {
	return &remediationService{ServiceParams: params}
}

func (s *remediationService) ProcessDue(ctx context.Context, limit int) (int, error) {
	now := time.Now().UTC()
	due, err := s.RemediationRepo.ListDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, rem := range due {
		if err := s.processOne(ctx, rem); err != nil {
			s.Logger.Errorw("remediation attempt failed",
				"error", err,
				"remediation_id", rem.ID,
				"duplicate_provider_subscription_id", rem.DuplicateProviderSubscriptionID)
			continue
		}
		if rem.RemediationStatus == types.RemediationStatusSucceeded {
			resolved++
		}
	}
	return resolved, nil
}

func (s *remediationService) Process(ctx context.Context, id string) error {
	rem, err := s.RemediationRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if rem.RemediationStatus.IsTerminal() {
		return nil
	}
	return s.processOne(ctx, rem)
}

func (s *remediationService) processOne(ctx context.Context, rem *remediation.Remediation) error {
	now := time.Now().UTC()

	// skip rows another worker holds
	if rem.RemediationStatus == types.RemediationStatusLeased && rem.Lease.IsHeld(now) {
		return nil
	}

	rem.Lease = rem.Lease.Acquire(workerOwner(), now, s.Config.Billing.WorkerLeaseTTL)
	rem.RemediationStatus = types.RemediationStatusLeased
	rem.AttemptCount++
	rem.UpdatedAt = now
	if err := s.RemediationRepo.Update(ctx, rem); err != nil {
		// a version conflict means another worker won the lease
		if ierr.IsVersionConflict(err) {
			return nil
		}
		return err
	}

	if err := s.cancelDuplicate(ctx, rem); err != nil {
		return s.reschedule(ctx, rem, err)
	}

	rem.RemediationStatus = types.RemediationStatusSucceeded
	rem.ResolvedAt = &now
	rem.LastError = ""
	rem.NextAttemptAt = nil
	rem.Lease = rem.Lease.Release()
	rem.UpdatedAt = time.Now().UTC()
	if err := s.RemediationRepo.Update(ctx, rem); err != nil {
		return err
	}

	s.Logger.Infow("remediated duplicate subscription",
		"remediation_id", rem.ID,
		"billable_entity_id", rem.BillableEntityID,
		"duplicate_provider_subscription_id", rem.DuplicateProviderSubscriptionID,
		"canonical_provider_subscription_id", rem.CanonicalProviderSubscriptionID)
	return nil
}

func (s *remediationService) cancelDuplicate(ctx context.Context, rem *remediation.Remediation) error {
	client, err := s.Providers.Client(rem.Provider)
	if err != nil {
		return err
	}

	// cancelling an already-cancelled subscription must be treated as done
	current, err := client.RetrieveSubscription(ctx, rem.DuplicateProviderSubscriptionID)
	if err != nil {
		return err
	}
	if !current.Status.IsTerminal() {
		if err := client.CancelSubscription(ctx, rem.DuplicateProviderSubscriptionID); err != nil {
			return err
		}
	}

	// reflect the cancellation locally so the projection does not wait on a
	// webhook that may never come
	sub, err := s.SubscriptionRepo.GetByProviderSubscriptionID(ctx, rem.Provider, rem.DuplicateProviderSubscriptionID)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil
		}
		return err
	}
	now := time.Now().UTC()
	sub.SubscriptionStatus = types.SubscriptionStatusCancelled
	sub.IsCurrent = false
	if sub.CancelledAt == nil {
		sub.CancelledAt = &now
	}
	sub.UpdatedAt = now
	return s.SubscriptionRepo.Update(ctx, sub)
}

// reschedule records the failure and either backs off for another attempt
// or dead-letters the row once attempts are exhausted.
func (s *remediationService) reschedule(ctx context.Context, rem *remediation.Remediation, cause error) error {
	now := time.Now().UTC()
	rem.LastError = cause.Error()
	rem.Lease = rem.Lease.Release()
	rem.UpdatedAt = now

	if rem.AttemptCount >= s.Config.Billing.MaxRemediationAttempts {
		rem.RemediationStatus = types.RemediationStatusDeadLetter
		rem.NextAttemptAt = nil
		s.Logger.Errorw("remediation dead-lettered",
			"remediation_id", rem.ID,
			"attempts", rem.AttemptCount,
			"error", cause)
	} else {
		rem.RemediationStatus = types.RemediationStatusPending
		next := now.Add(retryDelay(rem.AttemptCount))
		rem.NextAttemptAt = &next
	}
	if err := s.RemediationRepo.Update(ctx, rem); err != nil {
		return err
	}
	return cause
}

// retryDelay derives the next attempt's backoff from the attempt count
func retryDelay(attempt int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 30 * time.Second
	policy.MaxInterval = 30 * time.Minute
	policy.RandomizationFactor = 0

	delay := policy.InitialInterval
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxInterval {
			return policy.MaxInterval
		}
	}
	return delay
}

