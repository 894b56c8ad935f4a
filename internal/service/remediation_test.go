package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/reckonhq/reckon/internal/domain/remediation"
	"github.com/reckonhq/reckon/internal/domain/subscription"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/testutil"
	"github.com/reckonhq/reckon/internal/types"
)

type RemediationServiceSuite struct {
	testutil.BaseServiceTestSuite
	service RemediationService
}

func TestRemediationService(t *testing.T) {
	suite.Run(t, new(RemediationServiceSuite))
}

func (s *RemediationServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewRemediationService(newTestServiceParams(&s.BaseServiceTestSuite))
}

func (s *RemediationServiceSuite) seedRemediation() *remediation.Remediation {
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

func (s *RemediationServiceSuite) seedDuplicateSubscription() *subscription.Subscription {
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
	return sub
}

func (s *RemediationServiceSuite) TestCancelsDuplicateAtProviderAndLocally() {
	ctx := s.GetContext()
	rem := s.seedRemediation()
	s.seedDuplicateSubscription()

	resolved, err := s.service.ProcessDue(ctx, 10)
	s.NoError(err)
	s.Equal(1, resolved)
	s.Equal([]string{"sub_remote_2"}, s.GetProviderClient().CancelCalls)

	stored, err := s.GetStores().RemediationRepo.Get(ctx, rem.ID)
	s.NoError(err)
	s.Equal(types.RemediationStatusSucceeded, stored.RemediationStatus)
	s.NotNil(stored.ResolvedAt)
	s.Empty(stored.Lease.Owner)

	sub, err := s.GetStores().SubscriptionRepo.GetByProviderSubscriptionID(ctx, types.ProviderTypeStripe, "sub_remote_2")
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, sub.SubscriptionStatus)
	s.False(sub.IsCurrent)
	s.NotNil(sub.CancelledAt)
}

func (s *RemediationServiceSuite) TestAlreadyCancelledAtProviderSkipsCancelCall() {
	ctx := s.GetContext()
	rem := s.seedRemediation()
	s.seedDuplicateSubscription()

	s.GetProviderClient().SubscriptionResult = &integration.Subscription{
		ID:     "sub_remote_2",
		Status: types.SubscriptionStatusCancelled,
	}

	resolved, err := s.service.ProcessDue(ctx, 10)
	s.NoError(err)
	s.Equal(1, resolved)
	s.Empty(s.GetProviderClient().CancelCalls)

	stored, err := s.GetStores().RemediationRepo.Get(ctx, rem.ID)
	s.NoError(err)
	s.Equal(types.RemediationStatusSucceeded, stored.RemediationStatus)
}

func (s *RemediationServiceSuite) TestProviderFailureBacksOff() {
	ctx := s.GetContext()
	rem := s.seedRemediation()
	s.GetProviderClient().RetrieveSubErr = ierr.NewError("stripe is down").Mark(ierr.ErrIntegration)

	resolved, err := s.service.ProcessDue(ctx, 10)
	s.NoError(err)
	s.Zero(resolved)

	stored, err := s.GetStores().RemediationRepo.Get(ctx, rem.ID)
	s.NoError(err)
	s.Equal(types.RemediationStatusPending, stored.RemediationStatus)
	s.Equal(1, stored.AttemptCount)
	s.NotEmpty(stored.LastError)
	s.NotNil(stored.NextAttemptAt)
	s.True(stored.NextAttemptAt.After(time.Now().UTC()))

	// not due again until the backoff elapses
	due, err := s.GetStores().RemediationRepo.ListDue(ctx, time.Now().UTC(), 10)
	s.NoError(err)
	s.Empty(due)
}

func (s *RemediationServiceSuite) TestExhaustedAttemptsDeadLetter() {
	ctx := s.GetContext()
	rem := s.seedRemediation()
	s.GetProviderClient().RetrieveSubErr = ierr.NewError("stripe is down").Mark(ierr.ErrIntegration)

	for i := 0; i < s.GetConfig().Billing.MaxRemediationAttempts; i++ {
		s.NoError(s.clearBackoff(rem.ID))
		_, err := s.service.ProcessDue(ctx, 10)
		s.NoError(err)
	}

	stored, err := s.GetStores().RemediationRepo.Get(ctx, rem.ID)
	s.NoError(err)
	s.Equal(types.RemediationStatusDeadLetter, stored.RemediationStatus)
	s.Equal(s.GetConfig().Billing.MaxRemediationAttempts, stored.AttemptCount)
	s.Nil(stored.NextAttemptAt)

	// dead-lettered rows are never picked up again
	s.NoError(s.service.Process(ctx, rem.ID))
	s.Zero(len(s.GetProviderClient().CancelCalls))
}

func (s *RemediationServiceSuite) TestLeaseHeldByAnotherWorkerIsSkipped() {
	ctx := s.GetContext()
	rem := s.seedRemediation()

	now := time.Now().UTC()
	rem.RemediationStatus = types.RemediationStatusLeased
	rem.Lease = rem.Lease.Acquire("other-worker", now, time.Hour)
	s.NoError(s.GetStores().RemediationRepo.Update(ctx, rem))

	s.NoError(s.service.Process(ctx, rem.ID))
	s.Empty(s.GetProviderClient().CancelCalls)

	stored, err := s.GetStores().RemediationRepo.Get(ctx, rem.ID)
	s.NoError(err)
	s.Equal("other-worker", stored.Lease.Owner)
}

// clearBackoff makes the row due immediately for the next attempt
func (s *RemediationServiceSuite) clearBackoff(id string) error {
	rem, err := s.GetStores().RemediationRepo.Get(s.GetContext(), id)
	if err != nil {
		return err
	}
	if rem.RemediationStatus != types.RemediationStatusPending {
		return nil
	}
	rem.NextAttemptAt = nil
	return s.GetStores().RemediationRepo.Update(s.GetContext(), rem)
}
