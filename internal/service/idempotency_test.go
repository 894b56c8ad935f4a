package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/testutil"
	"github.com/reckonhq/reckon/internal/types"
)

type IdempotencyServiceSuite struct {
	testutil.BaseServiceTestSuite
	service IdempotencyService
}

func TestIdempotencyService(t *testing.T) {
	suite.Run(t, new(IdempotencyServiceSuite))
}

func (s *IdempotencyServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewIdempotencyService(newTestServiceParams(&s.BaseServiceTestSuite))
}

func (s *IdempotencyServiceSuite) acquireParams() *AcquireParams {
	return &AcquireParams{
		BillableEntityID: "be_1",
		Action:           types.IdempotencyActionCheckout,
		ClientKey:        "key-1",
		Params: map[string]interface{}{
			"plan_id":  "plan_1",
			"quantity": int64(1),
		},
		Owner: "worker-a",
	}
}

func (s *IdempotencyServiceSuite) TestAcquireCreatesPendingRow() {
	result, err := s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
	s.NoError(err)
	s.False(result.Replayed)
	s.False(result.Recovered)
	s.Equal(types.IdempotencyStatusPending, result.Request.RequestStatus)
	s.NotEmpty(result.Request.OperationKey)
	s.NotEmpty(result.Request.ProviderIdempotencyKey)
	s.NotEmpty(result.Request.RequestHash)
	s.NotNil(result.Request.PendingKey)

	stored, err := s.GetStores().IdempotencyRepo.GetByKey(
		s.GetContext(), "be_1", types.IdempotencyActionCheckout, "key-1")
	s.NoError(err)
	s.Equal(result.Request.ID, stored.ID)
	s.JSONEq(`{"plan_id":"plan_1","quantity":1}`, string(stored.FrozenParams))
}

func (s *IdempotencyServiceSuite) TestAcquireRequiresClientKey() {
	params := s.acquireParams()
	params.ClientKey = ""
	_, err := s.service.AcquireOrReplay(s.GetContext(), params)
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *IdempotencyServiceSuite) TestReplaySucceededRow() {
	result, err := s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
	s.NoError(err)

	response := json.RawMessage(`{"session_id":"cs_1","url":"https://provider.test/x"}`)
	s.NoError(s.service.Complete(s.GetContext(), result.Request, response))

	again, err := s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
	s.NoError(err)
	s.True(again.Replayed)
	s.Equal(types.IdempotencyStatusSucceeded, again.Request.RequestStatus)
	s.JSONEq(string(response), string(again.Request.Response))
}

func (s *IdempotencyServiceSuite) TestKeyReuseWithDifferentParamsRejected() {
	_, err := s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
	s.NoError(err)

	changed := s.acquireParams()
	changed.Params["plan_id"] = "plan_2"
	_, err = s.service.AcquireOrReplay(s.GetContext(), changed)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *IdempotencyServiceSuite) TestConcurrentPendingRowRejected() {
	_, err := s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
	s.NoError(err)

	params := s.acquireParams()
	params.Owner = "worker-b"
	_, err = s.service.AcquireOrReplay(s.GetContext(), params)
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))
}

func (s *IdempotencyServiceSuite) TestExpiredLeaseIsReclaimed() {
	result, err := s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
	s.NoError(err)

	// backdate the lease so it reads as expired
	row := result.Request
	past := time.Now().UTC().Add(-time.Hour)
	row.Lease.ExpiresAt = &past
	s.NoError(s.GetStores().IdempotencyRepo.Update(s.GetContext(), row))

	params := s.acquireParams()
	params.Owner = "worker-b"
	reclaimed, err := s.service.AcquireOrReplay(s.GetContext(), params)
	s.NoError(err)
	s.True(reclaimed.Recovered)
	s.False(reclaimed.Replayed)
	s.Equal(row.ID, reclaimed.Request.ID)
	s.Equal(1, reclaimed.Request.RecoveryAttemptCount)
	s.Equal("worker-b", reclaimed.Request.Lease.Owner)

	// the frozen params survive the reclaim untouched
	s.JSONEq(`{"plan_id":"plan_1","quantity":1}`, string(reclaimed.Request.FrozenParams))
}

func (s *IdempotencyServiceSuite) TestStaleLeaseWriteLosesToCurrentOwner() {
	result, err := s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
	s.NoError(err)

	// two workers read the row at the same fencing version
	readA, err := s.GetStores().IdempotencyRepo.Get(s.GetContext(), result.Request.ID)
	s.NoError(err)
	readB, err := s.GetStores().IdempotencyRepo.Get(s.GetContext(), result.Request.ID)
	s.NoError(err)

	now := time.Now().UTC()
	readA.Lease = readA.Lease.Acquire("worker-a", now, time.Minute)
	s.NoError(s.GetStores().IdempotencyRepo.Update(s.GetContext(), readA))

	// the second write carries a stale version and must not steal the lease
	readB.Lease = readB.Lease.Acquire("worker-b", now, time.Minute)
	err = s.GetStores().IdempotencyRepo.Update(s.GetContext(), readB)
	s.Error(err)
	s.True(ierr.IsVersionConflict(err))

	stored, err := s.GetStores().IdempotencyRepo.Get(s.GetContext(), result.Request.ID)
	s.NoError(err)
	s.Equal("worker-a", stored.Lease.Owner)
}

func (s *IdempotencyServiceSuite) TestRecoveryAttemptsExhaust() {
	result, err := s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
	s.NoError(err)
	row := result.Request

	for i := 0; i < s.GetConfig().Billing.MaxRecoveryAttempts; i++ {
		past := time.Now().UTC().Add(-time.Hour)
		row.Lease.ExpiresAt = &past
		s.NoError(s.GetStores().IdempotencyRepo.Update(s.GetContext(), row))

		reclaimed, err := s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
		s.NoError(err)
		s.True(reclaimed.Recovered)
		row = reclaimed.Request
	}

	past := time.Now().UTC().Add(-time.Hour)
	row.Lease.ExpiresAt = &past
	s.NoError(s.GetStores().IdempotencyRepo.Update(s.GetContext(), row))

	_, err = s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))

	stored, err := s.GetStores().IdempotencyRepo.GetByKey(
		s.GetContext(), "be_1", types.IdempotencyActionCheckout, "key-1")
	s.NoError(err)
	s.Equal(types.IdempotencyStatusFailed, stored.RequestStatus)
	s.Nil(stored.PendingKey)
}

func (s *IdempotencyServiceSuite) TestFailedRowDoesNotReplayAsSuccess() {
	result, err := s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
	s.NoError(err)
	s.NoError(s.service.Fail(s.GetContext(), result.Request, ierr.NewError("provider down").Mark(ierr.ErrIntegration)))

	_, err = s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *IdempotencyServiceSuite) TestCompleteReleasesPendingKey() {
	result, err := s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
	s.NoError(err)
	s.NotNil(result.Request.PendingKey)

	s.NoError(s.service.Complete(s.GetContext(), result.Request, json.RawMessage(`{}`)))

	stored, err := s.GetStores().IdempotencyRepo.Get(s.GetContext(), result.Request.ID)
	s.NoError(err)
	s.Nil(stored.PendingKey)
	s.Empty(stored.Lease.Owner)
}

func (s *IdempotencyServiceSuite) TestOnlyOnePendingCheckoutPerEntity() {
	_, err := s.service.AcquireOrReplay(s.GetContext(), s.acquireParams())
	s.NoError(err)

	// a different client key still collides on the pending-checkout slot
	other := s.acquireParams()
	other.ClientKey = "key-2"
	_, err = s.service.AcquireOrReplay(s.GetContext(), other)
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))
}
