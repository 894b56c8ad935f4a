package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/reckonhq/reckon/internal/domain/outbox"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// OutboxService drains the leased job table. Jobs are deduped at enqueue
// time by (job_type, dedupe_key); the dispatcher leases a batch, routes each
// job to the owning service, and reschedules failures with backoff until the
// attempt budget runs out.
type OutboxService interface {
	// ProcessDue leases and dispatches up to limit due jobs; returns how
	// many completed successfully this pass.
	ProcessDue(ctx context.Context, limit int) (int, error)
}

type outboxService struct {
	ServiceParams
	billing      BillingService
	entitlements EntitlementService
	remediations RemediationService
}

func NewOutboxService(
	params ServiceParams,
	billingSvc BillingService,
	entitlementSvc EntitlementService,
	remediationSvc RemediationService,
) OutboxService {
	return &outboxService{
		ServiceParams: params,
		billing:       billingSvc,
		entitlements:  entitlementSvc,
		remediations:  remediationSvc,
	}
}

func (s *outboxService) ProcessDue(ctx context.Context, limit int) (int, error) {
	now := time.Now().UTC()
	jobs, err := s.OutboxRepo.LeaseDue(ctx, workerOwner(), now, s.Config.Billing.WorkerLeaseTTL, limit)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, job := range jobs {
		if err := s.dispatch(ctx, job); err != nil {
			s.Logger.Errorw("outbox job failed",
				"error", err,
				"job_id", job.ID,
				"job_type", job.JobType,
				"dedupe_key", job.DedupeKey,
				"attempt", job.AttemptCount)
			if rerr := s.reschedule(ctx, job, err); rerr != nil {
				return completed, rerr
			}
			continue
		}
		if err := s.complete(ctx, job); err != nil {
			return completed, err
		}
		completed++
	}
	return completed, nil
}

func (s *outboxService) dispatch(ctx context.Context, job *outbox.Job) error {
	switch job.JobType {
	case types.OutboxJobTypeRemediationKick:
		id, err := payloadField(job, "remediation_id")
		if err != nil {
			return err
		}
		return s.remediations.Process(ctx, id)

	case types.OutboxJobTypeCheckoutReconcile:
		// the session may still be waiting on its subscription webhook;
		// the batch pass covers it, so a single pass here is best-effort
		_, err := s.billing.ReconcilePendingSessions(ctx, checkoutReconcileBatch)
		return err

	case types.OutboxJobTypeBalanceRecompute:
		subjectID, err := payloadField(job, "subject_id")
		if err != nil {
			return err
		}
		var probe struct {
			DefinitionID string `json:"definition_id"`
		}
		if err := json.Unmarshal(job.Payload, &probe); err != nil {
			return ierr.WithError(err).Mark(ierr.ErrSystem)
		}
		if probe.DefinitionID != "" {
			_, err := s.entitlements.RecomputeBalance(ctx, subjectID, probe.DefinitionID)
			return err
		}
		_, err = s.entitlements.BackfillPlanGrants(ctx, subjectID)
		return err

	case types.OutboxJobTypeCheckoutExpirySweep:
		_, err := s.billing.ExpireStaleSessions(ctx, checkoutExpiryBatch)
		return err

	default:
		return ierr.NewError("unknown outbox job type").
			WithReportableDetails(map[string]any{
				"job_id":   job.ID,
				"job_type": job.JobType,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
}

const (
	checkoutReconcileBatch = 100
	checkoutExpiryBatch    = 100
)

func (s *outboxService) complete(ctx context.Context, job *outbox.Job) error {
	now := time.Now().UTC()
	job.JobStatus = types.OutboxJobStatusSucceeded
	job.CompletedAt = &now
	job.LastError = ""
	job.NextAttemptAt = nil
	job.Lease = job.Lease.Release()
	job.UpdatedAt = now
	return s.OutboxRepo.Update(ctx, job)
}

func (s *outboxService) reschedule(ctx context.Context, job *outbox.Job, cause error) error {
	now := time.Now().UTC()
	job.LastError = cause.Error()
	job.Lease = job.Lease.Release()
	job.UpdatedAt = now

	if job.AttemptCount >= s.Config.Billing.MaxOutboxAttempts {
		job.JobStatus = types.OutboxJobStatusDeadLetter
		job.NextAttemptAt = nil
		s.Logger.Errorw("outbox job dead-lettered",
			"job_id", job.ID,
			"job_type", job.JobType,
			"attempts", job.AttemptCount,
			"error", cause)
	} else {
		job.JobStatus = types.OutboxJobStatusFailed
		next := now.Add(retryDelay(job.AttemptCount))
		job.NextAttemptAt = &next
	}
	return s.OutboxRepo.Update(ctx, job)
}

func payloadField(job *outbox.Job, key string) (string, error) {
	var fields map[string]string
	if err := json.Unmarshal(job.Payload, &fields); err != nil {
		return "", ierr.WithError(err).
			WithHint("Outbox payload could not be decoded").
			Mark(ierr.ErrSystem)
	}
	v := fields[key]
	if v == "" {
		return "", ierr.NewError("outbox payload is missing a required field").
			WithReportableDetails(map[string]any{
				"job_id": job.ID,
				"field":  key,
			}).
			Mark(ierr.ErrValidation)
	}
	return v, nil
}
