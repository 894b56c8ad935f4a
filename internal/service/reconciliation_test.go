package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/reckonhq/reckon/internal/domain/checkoutsession"
	"github.com/reckonhq/reckon/internal/domain/entitlement"
	"github.com/reckonhq/reckon/internal/domain/reconciliation"
	"github.com/reckonhq/reckon/internal/domain/subscription"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/testutil"
	"github.com/reckonhq/reckon/internal/types"
)

type ReconciliationServiceSuite struct {
	testutil.BaseServiceTestSuite
	service ReconciliationService
}

func TestReconciliationService(t *testing.T) {
	suite.Run(t, new(ReconciliationServiceSuite))
}

func (s *ReconciliationServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	idempotencySvc := NewIdempotencyService(params)
	billing := NewBillingService(params, idempotencySvc)
	entitlements := NewEntitlementService(params)
	projections := NewProjectionService(params, entitlements)
	s.service = NewReconciliationService(params, billing, entitlements, projections)
}

func (s *ReconciliationServiceSuite) seedCurrentSubscription(entityID string) *subscription.Subscription {
	ctx := s.GetContext()
	now := time.Now().UTC()
	sub := &subscription.Subscription{
		ID:                     "sub_" + entityID,
		BillableEntityID:       entityID,
		Provider:               types.ProviderTypeStripe,
		ProviderSubscriptionID: "psub_" + entityID,
		SubscriptionStatus:     types.SubscriptionStatusActive,
		IsCurrent:              true,
		CurrentPeriodStart:     now.Add(-time.Hour),
		CurrentPeriodEnd:       now.AddDate(0, 1, 0),
		BaseModel:              types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().SubscriptionRepo.Create(ctx, sub))
	return sub
}

func (s *ReconciliationServiceSuite) TestRunCompletesWithNoEntities() {
	run, err := s.service.Run(s.GetContext(), types.ProviderTypeStripe, types.ReconciliationScopeSubscriptions)
	s.NoError(err)
	s.NotNil(run)
	s.Equal(types.ReconciliationStatusSucceeded, run.RunStatus)
	s.Zero(run.ScannedCount)
	s.Nil(run.ActiveKey)
	s.NotNil(run.FinishedAt)
}

func (s *ReconciliationServiceSuite) TestOnlyOneActiveRunPerScope() {
	ctx := s.GetContext()
	now := time.Now().UTC()

	held := &reconciliation.Run{
		ID:        "rcn_live",
		Provider:  types.ProviderTypeStripe,
		Scope:     types.ReconciliationScopeSubscriptions,
		RunStatus: types.ReconciliationStatusRunning,
		StartedAt: now,
		BaseModel: types.GetDefaultBaseModel(ctx),
	}
	held.Lease = held.Lease.Acquire("other-runner", now, time.Hour)
	held.RefreshActiveKey()
	s.NoError(s.GetStores().ReconciliationRepo.Create(ctx, held))

	run, err := s.service.Run(ctx, types.ProviderTypeStripe, types.ReconciliationScopeSubscriptions)
	s.NoError(err)
	s.Nil(run)
}

func (s *ReconciliationServiceSuite) TestResumesExpiredRunFromCursor() {
	ctx := s.GetContext()
	now := time.Now().UTC()

	seedEntity(ctx, &s.BaseServiceTestSuite, "be_a")
	seedEntity(ctx, &s.BaseServiceTestSuite, "be_b")
	s.seedCurrentSubscription("be_b")

	// be_b's provider state has drifted
	remote := time.Now().UTC()
	s.GetProviderClient().SubscriptionResult = &integration.Subscription{
		ID:                 "psub_be_b",
		Status:             types.SubscriptionStatusPastDue,
		CurrentPeriodStart: remote.Add(-time.Hour),
		CurrentPeriodEnd:   remote.AddDate(0, 1, 0),
	}

	cursor, _ := json.Marshal(&reconciliation.Cursor{AfterEntityID: "be_a"})
	crashed := &reconciliation.Run{
		ID:        "rcn_crashed",
		Provider:  types.ProviderTypeStripe,
		Scope:     types.ReconciliationScopeSubscriptions,
		RunStatus: types.ReconciliationStatusRunning,
		Cursor:    cursor,
		StartedAt: now.Add(-time.Hour),
		BaseModel: types.GetDefaultBaseModel(ctx),
	}
	past := now.Add(-30 * time.Minute)
	crashed.Lease.Owner = "crashed-runner"
	crashed.Lease.ExpiresAt = &past
	crashed.RefreshActiveKey()
	s.NoError(s.GetStores().ReconciliationRepo.Create(ctx, crashed))

	run, err := s.service.Run(ctx, types.ProviderTypeStripe, types.ReconciliationScopeSubscriptions)
	s.NoError(err)
	s.NotNil(run)
	s.Equal("rcn_crashed", run.ID)
	s.Equal(types.ReconciliationStatusSucceeded, run.RunStatus)

	// the scan picked up after the cursor: only be_b was visited
	s.Equal(1, run.ScannedCount)
	s.Equal(1, run.DriftDetectedCount)
	s.Equal(1, run.RepairedCount)

	sub, err := s.GetStores().SubscriptionRepo.Get(ctx, "sub_be_b")
	s.NoError(err)
	s.Equal(types.SubscriptionStatusPastDue, sub.SubscriptionStatus)
}

func (s *ReconciliationServiceSuite) TestRepairsDriftedSubscription() {
	ctx := s.GetContext()
	seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	sub := s.seedCurrentSubscription("be_1")

	s.GetProviderClient().SubscriptionResult = &integration.Subscription{
		ID:                 sub.ProviderSubscriptionID,
		Status:             types.SubscriptionStatusCancelled,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
	}

	run, err := s.service.Run(ctx, types.ProviderTypeStripe, types.ReconciliationScopeSubscriptions)
	s.NoError(err)
	s.Equal(1, run.ScannedCount)
	s.Equal(1, run.DriftDetectedCount)

	// a terminal provider status clears the current flag
	stored, err := s.GetStores().SubscriptionRepo.Get(ctx, sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, stored.SubscriptionStatus)
	s.False(stored.IsCurrent)
}

func (s *ReconciliationServiceSuite) TestNoDriftMeansNoRepair() {
	ctx := s.GetContext()
	seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	sub := s.seedCurrentSubscription("be_1")

	s.GetProviderClient().SubscriptionResult = &integration.Subscription{
		ID:                 sub.ProviderSubscriptionID,
		Status:             types.SubscriptionStatusActive,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
	}

	run, err := s.service.Run(ctx, types.ProviderTypeStripe, types.ReconciliationScopeSubscriptions)
	s.NoError(err)
	s.Equal(1, run.ScannedCount)
	s.Zero(run.DriftDetectedCount)
	s.Zero(run.RepairedCount)
}

func (s *ReconciliationServiceSuite) TestAbandonsUnverifiableRecoverySession() {
	ctx := s.GetContext()
	entity := seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	price := seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	session := &checkoutsession.CheckoutSession{
		ID:               "cks_1",
		BillableEntityID: entity.ID,
		Provider:         types.ProviderTypeStripe,
		OperationKey:     "op_lost",
		PlanPriceID:      price.ID,
		SessionStatus:    types.CheckoutSessionStatusRecoveryVerificationPending,
		BaseModel:        types.GetDefaultBaseModel(ctx),
	}
	session.RefreshBlockingKey()
	s.NoError(s.GetStores().CheckoutSessionRepo.Create(ctx, session))

	// the provider has no session for the operation key: the original call
	// never landed, so the blocking slot is released
	s.GetProviderClient().SessionsByOpKeyResult = nil

	run, err := s.service.Run(ctx, types.ProviderTypeStripe, types.ReconciliationScopeCheckouts)
	s.NoError(err)
	s.Equal(1, run.DriftDetectedCount)
	s.Equal(1, run.RepairedCount)

	stored, err := s.GetStores().CheckoutSessionRepo.Get(ctx, session.ID)
	s.NoError(err)
	s.Equal(types.CheckoutSessionStatusAbandoned, stored.SessionStatus)
	s.Nil(stored.BlockingKey)
}

func (s *ReconciliationServiceSuite) TestBackfillsMissingPlanGrants() {
	ctx := s.GetContext()
	seedEntity(ctx, &s.BaseServiceTestSuite, "be_1")
	seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

	def := &entitlement.Definition{
		ID:              "def_calc",
		Code:            "calculations",
		Name:            "Calculations",
		EntitlementType: types.EntitlementTypeMeteredQuota,
		AggregationMode: types.AggregationModeSum,
		EnforcementMode: types.EnforcementModeHardDeny,
		WindowInterval:  types.WindowIntervalMonth,
		BaseModel:       types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().EntitlementRepo.CreateDefinition(ctx, def))
	s.NoError(s.GetStores().EntitlementRepo.CreatePlanEntitlement(ctx, &entitlement.PlanEntitlement{
		ID:           "pe_1",
		PlanID:       "plan_pro",
		DefinitionID: def.ID,
		Amount:       500,
		BaseModel:    types.GetDefaultBaseModel(ctx),
	}))

	sub := s.seedCurrentSubscription("be_1")
	sub.PlanID = "plan_pro"
	s.NoError(s.GetStores().SubscriptionRepo.Update(ctx, sub))

	run, err := s.service.Run(ctx, types.ProviderTypeStripe, types.ReconciliationScopeEntitlements)
	s.NoError(err)
	s.Equal(1, run.ScannedCount)
	s.Equal(1, run.RepairedCount)

	window := types.ResolveWindow(types.WindowIntervalMonth, sub.CurrentPeriodStart)
	balance, err := s.GetStores().BalanceRepo.GetBalance(ctx, "be_1", def.ID, window.Key())
	s.NoError(err)
	s.Equal(int64(500), balance.GrantedAmount)

	// a second run finds the grants already in place
	run, err = s.service.Run(ctx, types.ProviderTypeStripe, types.ReconciliationScopeEntitlements)
	s.NoError(err)
	s.Zero(run.RepairedCount)
}
