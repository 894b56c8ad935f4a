package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/reckonhq/reckon/internal/domain/billingcustomer"
	"github.com/reckonhq/reckon/internal/domain/subscription"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/testutil"
	"github.com/reckonhq/reckon/internal/types"
)

type BillingServiceSuite struct {
	testutil.BaseServiceTestSuite
	service BillingService
}

func TestBillingService(t *testing.T) {
	suite.Run(t, new(BillingServiceSuite))
}

func (s *BillingServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	s.service = NewBillingService(params, NewIdempotencyService(params))
}

func (s *BillingServiceSuite) checkoutRequest(entityID string) *CheckoutRequest {
	return &CheckoutRequest{
		BillableEntityID: entityID,
		PlanID:           "plan_pro",
		ClientKey:        "ck-1",
		SuccessURL:       "https://app.test/success",
		CancelURL:        "https://app.test/cancel",
	}
}

func (s *BillingServiceSuite) TestCreateCheckoutSession() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	resp, err := s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.NoError(err)
	s.NotEmpty(resp.SessionID)
	s.NotEmpty(resp.URL)
	s.NotEmpty(resp.OperationKey)
	s.False(resp.Existing)
	s.Equal(1, s.GetProviderClient().CreateCheckoutCalls)

	session, err := s.GetStores().CheckoutSessionRepo.GetByOperationKey(ctx, resp.OperationKey)
	s.NoError(err)
	s.Equal(types.CheckoutSessionStatusOpen, session.SessionStatus)
	s.Equal(entity.ID, session.BillableEntityID)
	s.NotNil(session.BlockingKey)

	ledger, err := s.GetStores().IdempotencyRepo.GetByKey(ctx, entity.ID, types.IdempotencyActionCheckout, "ck-1")
	s.NoError(err)
	s.Equal(types.IdempotencyStatusSucceeded, ledger.RequestStatus)
}

func (s *BillingServiceSuite) TestCheckoutReplayDoesNotCallProviderTwice() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	first, err := s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.NoError(err)

	// the open session short-circuits before the ledger is even consulted
	second, err := s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.NoError(err)
	s.True(second.Existing)
	s.Equal(first.URL, second.URL)
	s.Equal(first.OperationKey, second.OperationKey)
	s.Equal(1, s.GetProviderClient().CreateCheckoutCalls)
}

func (s *BillingServiceSuite) TestCheckoutLedgerReplayAfterSessionCompletes() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	first, err := s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.NoError(err)

	// once the session leaves blocking states, the same client key replays
	// the stored response from the ledger instead of opening a new checkout
	session, err := s.GetStores().CheckoutSessionRepo.GetByOperationKey(ctx, first.OperationKey)
	s.NoError(err)
	s.NoError(session.Transition(types.CheckoutSessionStatusExpired))
	s.NoError(s.GetStores().CheckoutSessionRepo.Update(ctx, session))

	second, err := s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.NoError(err)
	s.Equal(first.SessionID, second.SessionID)
	s.Equal(1, s.GetProviderClient().CreateCheckoutCalls)
}

func (s *BillingServiceSuite) TestCheckoutBlockedWhileSessionFinalizing() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	resp, err := s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.NoError(err)

	session, err := s.GetStores().CheckoutSessionRepo.GetByOperationKey(ctx, resp.OperationKey)
	s.NoError(err)
	s.NoError(session.Transition(types.CheckoutSessionStatusCompletedPendingSubscription))
	s.NoError(s.GetStores().CheckoutSessionRepo.Update(ctx, session))

	req := s.checkoutRequest(entity.ID)
	req.ClientKey = "ck-2"
	_, err = s.service.CreateCheckoutSession(ctx, req)
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))
	s.Equal(1, s.GetProviderClient().CreateCheckoutCalls)
}

func (s *BillingServiceSuite) TestCheckoutRejectedWithCurrentSubscription() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	sub := &subscription.Subscription{
		ID:                     "sub_1",
		BillableEntityID:       entity.ID,
		Provider:               types.ProviderTypeStripe,
		ProviderSubscriptionID: "psub_1",
		SubscriptionStatus:     types.SubscriptionStatusActive,
		IsCurrent:              true,
		BaseModel:              types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().SubscriptionRepo.Create(ctx, sub))

	_, err := s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
	s.Zero(s.GetProviderClient().CreateCheckoutCalls)
}

func (s *BillingServiceSuite) TestCheckoutProviderFailureRecordsLedgerFailure() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	s.GetProviderClient().CheckoutErr = ierr.NewError("stripe is down").Mark(ierr.ErrIntegration)

	_, err := s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.Error(err)

	ledger, err := s.GetStores().IdempotencyRepo.GetByKey(ctx, entity.ID, types.IdempotencyActionCheckout, "ck-1")
	s.NoError(err)
	s.Equal(types.IdempotencyStatusFailed, ledger.RequestStatus)
	s.Nil(ledger.PendingKey)
}

func (s *BillingServiceSuite) TestCheckoutRecoveryAdoptsProviderSession() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	// first attempt dies after acquiring the ledger lease
	s.GetProviderClient().CheckoutErr = ierr.NewError("connection reset").Mark(ierr.ErrIntegration)
	_, err := s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.Error(err)

	// simulate a crash instead of a clean failure: restore the pending row
	// with an expired lease
	ledger, err := s.GetStores().IdempotencyRepo.GetByKey(ctx, entity.ID, types.IdempotencyActionCheckout, "ck-1")
	s.NoError(err)
	past := time.Now().UTC().Add(-time.Hour)
	ledger.RequestStatus = types.IdempotencyStatusPending
	ledger.RefreshPendingKey()
	ledger.Lease.Owner = "crashed-worker"
	ledger.Lease.ExpiresAt = &past
	s.NoError(s.GetStores().IdempotencyRepo.Update(ctx, ledger))

	// the provider did receive the original call
	s.GetProviderClient().CheckoutErr = nil
	s.GetProviderClient().SessionsByOpKeyResult = []*integration.CheckoutSession{{
		ID:           "cs_recovered",
		URL:          "https://provider.test/checkout/recovered",
		Status:       "open",
		OperationKey: ledger.OperationKey,
	}}

	resp, err := s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.NoError(err)
	s.Equal(ledger.OperationKey, resp.OperationKey)
	s.Equal("https://provider.test/checkout/recovered", resp.URL)
	// no second create call went out
	s.Equal(1, s.GetProviderClient().CreateCheckoutCalls)

	session, err := s.GetStores().CheckoutSessionRepo.GetByOperationKey(ctx, ledger.OperationKey)
	s.NoError(err)
	s.Equal("cs_recovered", session.ProviderSessionID)
}

func (s *BillingServiceSuite) TestCheckoutRecoveryParksUnverifiableSession() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	// first attempt dies after acquiring the ledger lease
	s.GetProviderClient().CheckoutErr = ierr.NewError("connection reset").Mark(ierr.ErrIntegration)
	_, err := s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.Error(err)

	// simulate a crash instead of a clean failure: restore the pending row
	// with an expired lease
	ledger, err := s.GetStores().IdempotencyRepo.GetByKey(ctx, entity.ID, types.IdempotencyActionCheckout, "ck-1")
	s.NoError(err)
	past := time.Now().UTC().Add(-time.Hour)
	ledger.RequestStatus = types.IdempotencyStatusPending
	ledger.RefreshPendingKey()
	ledger.Lease.Owner = "crashed-worker"
	ledger.Lease.ExpiresAt = &past
	s.NoError(s.GetStores().IdempotencyRepo.Update(ctx, ledger))

	// the provider cannot say whether the original call landed
	s.GetProviderClient().CheckoutErr = nil
	s.GetProviderClient().ListSessionsErr = ierr.NewError("stripe is down").Mark(ierr.ErrIntegration)

	_, err = s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.Error(err)
	// no blind re-send went out
	s.Equal(1, s.GetProviderClient().CreateCheckoutCalls)

	// the checkout is parked for the reconciliation sweep to settle
	session, err := s.GetStores().CheckoutSessionRepo.GetByOperationKey(ctx, ledger.OperationKey)
	s.NoError(err)
	s.Equal(types.CheckoutSessionStatusRecoveryVerificationPending, session.SessionStatus)
	s.NotNil(session.BlockingKey)

	stored, err := s.GetStores().IdempotencyRepo.GetByKey(ctx, entity.ID, types.IdempotencyActionCheckout, "ck-1")
	s.NoError(err)
	s.Equal(types.IdempotencyStatusPending, stored.RequestStatus)

	// the parked session blocks new checkouts until it settles
	req := s.checkoutRequest(entity.ID)
	req.ClientKey = "ck-2"
	_, err = s.service.CreateCheckoutSession(ctx, req)
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))
	s.Equal(1, s.GetProviderClient().CreateCheckoutCalls)
}

func (s *BillingServiceSuite) TestCreatePortalSessionRequiresCustomer() {
	ctx := s.GetContext()
	seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")

	_, err := s.service.CreatePortalSession(ctx, &PortalRequest{
		BillableEntityID: "be_1",
		ClientKey:        "pk-1",
		ReturnURL:        "https://app.test/settings",
	})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *BillingServiceSuite) TestCreatePortalSession() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	s.seedCustomer(entity.ID)

	resp, err := s.service.CreatePortalSession(ctx, &PortalRequest{
		BillableEntityID: entity.ID,
		ClientKey:        "pk-1",
		ReturnURL:        "https://app.test/settings",
	})
	s.NoError(err)
	s.Contains(resp.URL, "https://provider.test/portal/")

	replay, err := s.service.CreatePortalSession(ctx, &PortalRequest{
		BillableEntityID: entity.ID,
		ClientKey:        "pk-1",
		ReturnURL:        "https://app.test/settings",
	})
	s.NoError(err)
	s.Equal(resp.URL, replay.URL)
}

func (s *BillingServiceSuite) TestCreatePaymentLink() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	resp, err := s.service.CreatePaymentLink(ctx, &PaymentLinkRequest{
		BillableEntityID: entity.ID,
		PlanID:           "plan_pro",
		ClientKey:        "lk-1",
	})
	s.NoError(err)
	s.NotEmpty(resp.ID)
	s.NotEmpty(resp.URL)

	ledger, err := s.GetStores().IdempotencyRepo.GetByKey(ctx, entity.ID, types.IdempotencyActionPaymentLink, "lk-1")
	s.NoError(err)
	s.Equal(types.IdempotencyStatusSucceeded, ledger.RequestStatus)
}

func (s *BillingServiceSuite) TestListPaymentMethodsWithoutCustomerIsEmpty() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")

	methods, err := s.service.ListPaymentMethods(ctx, entity.ID)
	s.NoError(err)
	s.Empty(methods)
}

func (s *BillingServiceSuite) TestExpireStaleSessions() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	resp, err := s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.NoError(err)

	session, err := s.GetStores().CheckoutSessionRepo.GetByOperationKey(ctx, resp.OperationKey)
	s.NoError(err)
	past := time.Now().UTC().Add(-time.Minute)
	session.ExpiresAt = &past
	s.NoError(s.GetStores().CheckoutSessionRepo.Update(ctx, session))

	expired, err := s.service.ExpireStaleSessions(ctx, 10)
	s.NoError(err)
	s.Equal(1, expired)
	s.Equal([]string{session.ProviderSessionID}, s.GetProviderClient().ExpireCalls)

	session, err = s.GetStores().CheckoutSessionRepo.Get(ctx, session.ID)
	s.NoError(err)
	s.Equal(types.CheckoutSessionStatusExpired, session.SessionStatus)
	s.Nil(session.BlockingKey)
}

func (s *BillingServiceSuite) TestReconcilePendingSessions() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	resp, err := s.service.CreateCheckoutSession(ctx, s.checkoutRequest(entity.ID))
	s.NoError(err)

	session, err := s.GetStores().CheckoutSessionRepo.GetByOperationKey(ctx, resp.OperationKey)
	s.NoError(err)
	session.ProviderSubscriptionID = "psub_1"
	s.NoError(session.Transition(types.CheckoutSessionStatusCompletedPendingSubscription))
	s.NoError(s.GetStores().CheckoutSessionRepo.Update(ctx, session))

	sub := &subscription.Subscription{
		ID:                     "sub_1",
		BillableEntityID:       entity.ID,
		Provider:               types.ProviderTypeStripe,
		ProviderSubscriptionID: "psub_1",
		SubscriptionStatus:     types.SubscriptionStatusActive,
		IsCurrent:              true,
		BaseModel:              types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().SubscriptionRepo.Create(ctx, sub))

	reconciled, err := s.service.ReconcilePendingSessions(ctx, 10)
	s.NoError(err)
	s.Equal(1, reconciled)

	session, err = s.GetStores().CheckoutSessionRepo.Get(ctx, session.ID)
	s.NoError(err)
	s.Equal(types.CheckoutSessionStatusCompletedReconciled, session.SessionStatus)
	s.Equal("sub_1", session.SubscriptionID)
	s.Nil(session.BlockingKey)
	s.NotNil(session.CompletedAt)
}

func (s *BillingServiceSuite) seedCustomer(entityID string) *billingcustomer.BillingCustomer {
	customer := &billingcustomer.BillingCustomer{
		ID:                 "bc_" + entityID,
		BillableEntityID:   entityID,
		Provider:           types.ProviderTypeStripe,
		ProviderCustomerID: "cus_" + entityID,
		Email:              "owner@example.com",
		BaseModel:          types.GetDefaultBaseModel(s.GetContext()),
	}
	s.NoError(s.GetStores().BillingCustomerRepo.Create(s.GetContext(), customer))
	return customer
}
