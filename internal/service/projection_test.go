package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/reckonhq/reckon/internal/domain/checkoutsession"
	"github.com/reckonhq/reckon/internal/domain/entitlement"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/testutil"
	"github.com/reckonhq/reckon/internal/types"
)

type ProjectionServiceSuite struct {
	testutil.BaseServiceTestSuite
	service      ProjectionService
	entitlements EntitlementService
}

func TestProjectionService(t *testing.T) {
	suite.Run(t, new(ProjectionServiceSuite))
}

func (s *ProjectionServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	s.entitlements = NewEntitlementService(params)
	s.service = NewProjectionService(params, s.entitlements)
}

func (s *ProjectionServiceSuite) subscriptionEvent(eventID, providerSubID string, created time.Time, object map[string]interface{}) *integration.CanonicalEvent {
	if object == nil {
		object = map[string]interface{}{}
	}
	object["id"] = providerSubID
	if _, ok := object["status"]; !ok {
		object["status"] = "active"
	}
	return &integration.CanonicalEvent{
		ID:      eventID,
		Type:    types.CanonicalEventSubscriptionUpdated,
		Created: created.Unix(),
		Data:    integration.CanonicalEventData{Object: object},
	}
}

func (s *ProjectionServiceSuite) TestCreatesSubscriptionWithItems() {
	ctx := s.GetContext()
	now := time.Now().UTC()

	event := s.subscriptionEvent("evt_1", "sub_remote_1", now, map[string]interface{}{
		"customer": "cus_1",
		"currency": "usd",
		"items": map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{
					"id":                   "si_1",
					"quantity":             float64(2),
					"current_period_start": float64(now.Unix()),
					"current_period_end":   float64(now.AddDate(0, 1, 0).Unix()),
					"price": map[string]interface{}{
						"id":          "prc_remote_1",
						"unit_amount": float64(1900),
						"currency":    "usd",
					},
				},
			},
		},
	})

	sub, err := s.service.ApplySubscriptionEvent(ctx, event, types.ProviderTypeStripe, "be_1")
	s.NoError(err)
	s.Equal("sub_remote_1", sub.ProviderSubscriptionID)
	s.Equal("cus_1", sub.ProviderCustomerID)
	s.True(sub.IsCurrent)
	s.Equal("evt_1", sub.LastProviderEventID)
	s.False(sub.CurrentPeriodStart.IsZero())

	items, err := s.GetStores().SubscriptionRepo.ListItems(ctx, sub.ID)
	s.NoError(err)
	s.Len(items, 1)
	s.Equal("si_1", items[0].ProviderItemID)
	s.Equal(int64(2), items[0].Quantity)
	s.Equal(int64(1900), items[0].UnitAmount)
}

func (s *ProjectionServiceSuite) TestDeletedEventCancelsAndClearsCurrent() {
	ctx := s.GetContext()
	now := time.Now().UTC()

	_, err := s.service.ApplySubscriptionEvent(ctx,
		s.subscriptionEvent("evt_1", "sub_remote_1", now.Add(-time.Hour), nil),
		types.ProviderTypeStripe, "be_1")
	s.NoError(err)

	deleted := s.subscriptionEvent("evt_2", "sub_remote_1", now, map[string]interface{}{
		"status": "canceled",
	})
	deleted.Type = types.CanonicalEventSubscriptionDeleted

	sub, err := s.service.ApplySubscriptionEvent(ctx, deleted, types.ProviderTypeStripe, "be_1")
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCancelled, sub.SubscriptionStatus)
	s.False(sub.IsCurrent)
	s.NotNil(sub.CancelledAt)

	_, err = s.GetStores().SubscriptionRepo.GetCurrent(ctx, "be_1")
	s.Error(err)
}

func (s *ProjectionServiceSuite) TestPlanGrantsAppliedOnActivation() {
	ctx := s.GetContext()
	now := time.Now().UTC()

	price := seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")

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

	// the provider price id on the item resolves the plan
	event := s.subscriptionEvent("evt_1", "sub_remote_1", now, map[string]interface{}{
		"current_period_start": float64(now.Unix()),
		"current_period_end":   float64(now.AddDate(0, 1, 0).Unix()),
		"metadata":             map[string]interface{}{"operation_key": "op_1"},
	})
	session := s.seedSessionForOperation(ctx, "op_1", price.ID)

	sub, err := s.service.ApplySubscriptionEvent(ctx, event, types.ProviderTypeStripe, "be_1")
	s.NoError(err)
	s.Equal(session.PlanPriceID, sub.PlanPriceID)
	s.Equal("plan_pro", sub.PlanID)

	balance, err := s.GetStores().BalanceRepo.GetBalance(ctx, "be_1", def.ID, types.ResolveWindow(types.WindowIntervalMonth, now).Key())
	s.NoError(err)
	s.Equal(int64(500), balance.GrantedAmount)
}

func (s *ProjectionServiceSuite) TestDuplicateCurrentLookingEnqueuesRemediation() {
	ctx := s.GetContext()
	now := time.Now().UTC()

	// canonical subscription arrived through a known checkout
	price := seedSellablePrice(ctx, &s.BaseServiceTestSuite, "plan_pro")
	s.seedSessionForOperation(ctx, "op_1", price.ID)

	canonical := s.subscriptionEvent("evt_1", "sub_remote_1", now.Add(-time.Hour), map[string]interface{}{
		"metadata": map[string]interface{}{"operation_key": "op_1"},
	})
	_, err := s.service.ApplySubscriptionEvent(ctx, canonical, types.ProviderTypeStripe, "be_1")
	s.NoError(err)

	// a second live subscription for the same entity appears
	duplicate := s.subscriptionEvent("evt_2", "sub_remote_2", now, nil)
	_, err = s.service.ApplySubscriptionEvent(ctx, duplicate, types.ProviderTypeStripe, "be_1")
	s.NoError(err)

	due, err := s.GetStores().RemediationRepo.ListDue(ctx, now.Add(time.Second), 10)
	s.NoError(err)
	s.Len(due, 1)
	s.Equal("sub_remote_2", due[0].DuplicateProviderSubscriptionID)
	s.Equal("sub_remote_1", due[0].CanonicalProviderSubscriptionID)
	s.Equal(types.RemediationActionCancelDuplicate, due[0].Action)

	// replaying the duplicate event does not enqueue a second remediation
	_, err = s.service.ApplySubscriptionEvent(ctx, duplicate, types.ProviderTypeStripe, "be_1")
	s.NoError(err)
	due, err = s.GetStores().RemediationRepo.ListDue(ctx, now.Add(time.Second), 10)
	s.NoError(err)
	s.Len(due, 1)
}

func (s *ProjectionServiceSuite) TestInvoicePaidRecordsPaymentOnce() {
	ctx := s.GetContext()
	now := time.Now().UTC()

	event := &integration.CanonicalEvent{
		ID:      "evt_1",
		Type:    types.CanonicalEventInvoicePaid,
		Created: now.Unix(),
		Data: integration.CanonicalEventData{Object: map[string]interface{}{
			"id":             "in_1",
			"customer":       "cus_1",
			"currency":       "usd",
			"amount_due":     float64(1900),
			"amount_paid":    float64(1900),
			"payment_intent": "pi_1",
		}},
	}

	inv, err := s.service.ApplyInvoiceEvent(ctx, event, types.ProviderTypeStripe, "be_1")
	s.NoError(err)
	s.Equal(types.InvoiceStatusPaid, inv.InvoiceStatus)
	s.Equal(int64(1900), inv.AmountPaid)

	payments, err := s.GetStores().InvoiceRepo.ListPaymentsByEntity(ctx, "be_1", types.NewDefaultQueryFilter())
	s.NoError(err)
	s.Len(payments, 1)
	s.Equal("pi_1", payments[0].ProviderPaymentID)

	// a replayed delivery must not double-record the payment
	event.ID = "evt_2"
	_, err = s.service.ApplyInvoiceEvent(ctx, event, types.ProviderTypeStripe, "be_1")
	s.NoError(err)
	payments, err = s.GetStores().InvoiceRepo.ListPaymentsByEntity(ctx, "be_1", types.NewDefaultQueryFilter())
	s.NoError(err)
	s.Len(payments, 1)
}

func (s *ProjectionServiceSuite) TestPaymentFailedEventUpdatesStatus() {
	ctx := s.GetContext()
	now := time.Now().UTC()

	event := &integration.CanonicalEvent{
		ID:      "evt_1",
		Type:    types.CanonicalEventInvoicePaymentFailed,
		Created: now.Unix(),
		Data: integration.CanonicalEventData{Object: map[string]interface{}{
			"id":         "in_1",
			"amount_due": float64(1900),
		}},
	}

	inv, err := s.service.ApplyInvoiceEvent(ctx, event, types.ProviderTypeStripe, "be_1")
	s.NoError(err)
	s.Equal(types.InvoiceStatusPaymentFailed, inv.InvoiceStatus)

	payments, err := s.GetStores().InvoiceRepo.ListPaymentsByEntity(ctx, "be_1", types.NewDefaultQueryFilter())
	s.NoError(err)
	s.Empty(payments)
}

// seedSessionForOperation records a completed checkout tied to operationKey
func (s *ProjectionServiceSuite) seedSessionForOperation(ctx context.Context, operationKey, planPriceID string) *checkoutsession.CheckoutSession {
	session := &checkoutsession.CheckoutSession{
		ID:                "cks_" + operationKey,
		BillableEntityID:  "be_1",
		Provider:          types.ProviderTypeStripe,
		ProviderSessionID: "cs_" + operationKey,
		OperationKey:      operationKey,
		PlanPriceID:       planPriceID,
		SessionStatus:     types.CheckoutSessionStatusCompletedPendingSubscription,
		URL:               "https://provider.test/checkout/" + operationKey,
		BaseModel:         types.GetDefaultBaseModel(ctx),
	}
	session.RefreshBlockingKey()
	s.NoError(s.GetStores().CheckoutSessionRepo.Create(ctx, session))
	return session
}
