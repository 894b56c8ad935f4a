package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/reckonhq/reckon/internal/domain/outbox"
	"github.com/reckonhq/reckon/internal/domain/remediation"
	"github.com/reckonhq/reckon/internal/domain/subscription"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/testutil"
	"github.com/reckonhq/reckon/internal/types"
)

type OutboxServiceSuite struct {
	testutil.BaseServiceTestSuite
	service      OutboxService
	remediations RemediationService
}

func TestOutboxService(t *testing.T) {
	suite.Run(t, new(OutboxServiceSuite))
}

func (s *OutboxServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	idempotencySvc := NewIdempotencyService(params)
	billing := NewBillingService(params, idempotencySvc)
	entitlements := NewEntitlementService(params)
	s.remediations = NewRemediationService(params)
	s.service = NewOutboxService(params, billing, entitlements, s.remediations)
}

func (s *OutboxServiceSuite) enqueue(jobType types.OutboxJobType, dedupeKey string, payload map[string]string) *outbox.Job {
	ctx := s.GetContext()
	raw, err := json.Marshal(payload)
	s.NoError(err)
	job := &outbox.Job{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_OUTBOX_JOB),
		JobType:     jobType,
		DedupeKey:   dedupeKey,
		Payload:     raw,
		JobStatus:   types.OutboxJobStatusPending,
		ScheduledAt: time.Now().UTC().Add(-time.Second),
		BaseModel:   types.GetDefaultBaseModel(ctx),
	}
	inserted, err := s.GetStores().OutboxRepo.Enqueue(ctx, job)
	s.NoError(err)
	s.True(inserted)
	return job
}

func (s *OutboxServiceSuite) TestEnqueueDedupesNonTerminalJobs() {
	ctx := s.GetContext()
	s.enqueue(types.OutboxJobTypeCheckoutReconcile, "cks_1", map[string]string{"session_id": "cks_1"})

	dup := &outbox.Job{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_OUTBOX_JOB),
		JobType:     types.OutboxJobTypeCheckoutReconcile,
		DedupeKey:   "cks_1",
		Payload:     json.RawMessage(`{"session_id":"cks_1"}`),
		JobStatus:   types.OutboxJobStatusPending,
		ScheduledAt: time.Now().UTC(),
		BaseModel:   types.GetDefaultBaseModel(ctx),
	}
	inserted, err := s.GetStores().OutboxRepo.Enqueue(ctx, dup)
	s.NoError(err)
	s.False(inserted)
}

func (s *OutboxServiceSuite) TestDispatchesRemediationKick() {
	ctx := s.GetContext()

	rem := s.seedRemediation()
	s.seedDuplicateSubscription()
	job := s.enqueue(types.OutboxJobTypeRemediationKick, rem.ID, map[string]string{"remediation_id": rem.ID})

	completed, err := s.service.ProcessDue(ctx, 10)
	s.NoError(err)
	s.Equal(1, completed)
	s.Equal([]string{"sub_remote_2"}, s.GetProviderClient().CancelCalls)

	stored, err := s.GetStores().OutboxRepo.Get(ctx, job.ID)
	s.NoError(err)
	s.Equal(types.OutboxJobStatusSucceeded, stored.JobStatus)
	s.NotNil(stored.CompletedAt)
	s.Empty(stored.Lease.Owner)

	remStored, err := s.GetStores().RemediationRepo.Get(ctx, rem.ID)
	s.NoError(err)
	s.Equal(types.RemediationStatusSucceeded, remStored.RemediationStatus)
}

func (s *OutboxServiceSuite) TestFailedJobReschedulesWithBackoff() {
	ctx := s.GetContext()

	rem := s.seedRemediation()
	s.seedDuplicateSubscription()
	s.GetProviderClient().CancelErr = ierr.NewError("stripe is down").Mark(ierr.ErrIntegration)

	job := s.enqueue(types.OutboxJobTypeRemediationKick, rem.ID, map[string]string{"remediation_id": rem.ID})

	completed, err := s.service.ProcessDue(ctx, 10)
	s.NoError(err)
	s.Zero(completed)

	stored, err := s.GetStores().OutboxRepo.Get(ctx, job.ID)
	s.NoError(err)
	s.Equal(types.OutboxJobStatusFailed, stored.JobStatus)
	s.Equal(1, stored.AttemptCount)
	s.NotEmpty(stored.LastError)
	s.NotNil(stored.NextAttemptAt)
	s.True(stored.NextAttemptAt.After(time.Now().UTC()))
}

func (s *OutboxServiceSuite) TestMalformedPayloadEventuallyDeadLetters() {
	ctx := s.GetContext()

	job := s.enqueue(types.OutboxJobTypeRemediationKick, "broken", map[string]string{"unexpected": "field"})

	for i := 0; i < s.GetConfig().Billing.MaxOutboxAttempts; i++ {
		s.makeDue(job.ID)
		_, err := s.service.ProcessDue(ctx, 10)
		s.NoError(err)
	}

	stored, err := s.GetStores().OutboxRepo.Get(ctx, job.ID)
	s.NoError(err)
	s.Equal(types.OutboxJobStatusDeadLetter, stored.JobStatus)
	s.Equal(s.GetConfig().Billing.MaxOutboxAttempts, stored.AttemptCount)
	s.True(stored.JobStatus.IsTerminal())

	// a terminal job frees its dedupe slot for a fresh enqueue
	again := s.enqueue(types.OutboxJobTypeRemediationKick, "broken", map[string]string{"unexpected": "field"})
	s.NotEqual(job.ID, again.ID)
}

func (s *OutboxServiceSuite) TestUnknownJobTypeFails() {
	ctx := s.GetContext()
	job := s.enqueue("mystery_job", "k1", map[string]string{})

	completed, err := s.service.ProcessDue(ctx, 10)
	s.NoError(err)
	s.Zero(completed)

	stored, err := s.GetStores().OutboxRepo.Get(ctx, job.ID)
	s.NoError(err)
	s.Equal(types.OutboxJobStatusFailed, stored.JobStatus)
}

func (s *OutboxServiceSuite) seedRemediation() *remediation.Remediation {
	ctx := s.GetContext()
	rem := &remediation.Remediation{
		ID:                              "rmd_1",
		Provider:                        types.ProviderTypeStripe,
		BillableEntityID:                "be_1",
		Action:                          types.RemediationActionCancelDuplicate,
		CanonicalProviderSubscriptionID: "sub_remote_1",
		DuplicateProviderSubscriptionID: "sub_remote_2",
		RemediationStatus:               types.RemediationStatusPending,
		BaseModel:                       types.GetDefaultBaseModel(ctx),
	}
	inserted, err := s.GetStores().RemediationRepo.Create(ctx, rem)
	s.NoError(err)
	s.True(inserted)
	return rem
}

func (s *OutboxServiceSuite) seedDuplicateSubscription() {
	ctx := s.GetContext()
	sub := &subscription.Subscription{
		ID:                     "sub_2",
		BillableEntityID:       "be_1",
		Provider:               types.ProviderTypeStripe,
		ProviderSubscriptionID: "sub_remote_2",
		SubscriptionStatus:     types.SubscriptionStatusActive,
		BaseModel:              types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().SubscriptionRepo.Create(ctx, sub))
}

func (s *OutboxServiceSuite) makeDue(jobID string) {
	job, err := s.GetStores().OutboxRepo.Get(s.GetContext(), jobID)
	s.NoError(err)
	if job.JobStatus.IsTerminal() {
		return
	}
	job.JobStatus = types.OutboxJobStatusPending
	job.NextAttemptAt = nil
	job.ScheduledAt = time.Now().UTC().Add(-time.Second)
	s.NoError(s.GetStores().OutboxRepo.Update(s.GetContext(), job))
}
