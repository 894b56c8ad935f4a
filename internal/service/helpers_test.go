package service

import (
	"context"
	"time"

	"github.com/reckonhq/reckon/internal/domain/billableentity"
	"github.com/reckonhq/reckon/internal/domain/plan"
	"github.com/reckonhq/reckon/internal/testutil"
	"github.com/reckonhq/reckon/internal/types"
)

// newTestServiceParams assembles the common dependency bundle from a suite's
// in-memory stores and fake provider registry.
func newTestServiceParams(s *testutil.BaseServiceTestSuite) ServiceParams {
	stores := s.GetStores()
	return ServiceParams{
		Logger:              s.GetLogger(),
		Config:              s.GetConfig(),
		DB:                  s.GetDB(),
		Cache:               s.GetCache(),
		BillableEntityRepo:  stores.BillableEntityRepo,
		BillingCustomerRepo: stores.BillingCustomerRepo,
		PlanRepo:            stores.PlanRepo,
		PriceRepo:           stores.PriceRepo,
		SubscriptionRepo:    stores.SubscriptionRepo,
		InvoiceRepo:         stores.InvoiceRepo,
		IdempotencyRepo:     stores.IdempotencyRepo,
		CheckoutSessionRepo: stores.CheckoutSessionRepo,
		WebhookEventRepo:    stores.WebhookEventRepo,
		EntitlementRepo:     stores.EntitlementRepo,
		LedgerRepo:          stores.LedgerRepo,
		BalanceRepo:         stores.BalanceRepo,
		OutboxRepo:          stores.OutboxRepo,
		ReconciliationRepo:  stores.ReconciliationRepo,
		RemediationRepo:     stores.RemediationRepo,
		Providers:           s.GetRegistry(),
		ResourceCounter:     s.GetResourceCounter(),
	}
}

// seedEntity creates an active billable entity with a workspace
func seedEntity(ctx context.Context, s *testutil.BaseServiceTestSuite, id string) *billableentity.BillableEntity {
	entity := &billableentity.BillableEntity{
		ID:          id,
		WorkspaceID: "ws_" + id,
		DisplayName: "Entity " + id,
		BaseModel:   types.GetDefaultBaseModel(ctx),
	}
	if err := s.GetStores().BillableEntityRepo.Create(ctx, entity); err != nil {
		s.T().Fatalf("failed to seed billable entity: %v", err)
	}
	return entity
}

// seedSellablePrice creates a plan with one sellable stripe price
func seedSellablePrice(ctx context.Context, s *testutil.BaseServiceTestSuite, planID string) *plan.Price {
	p := &plan.Plan{
		ID:        planID,
		Code:      "code-" + planID,
		Name:      "Plan " + planID,
		BaseModel: types.GetDefaultBaseModel(ctx),
	}
	if err := s.GetStores().PlanRepo.Create(ctx, p); err != nil {
		s.T().Fatalf("failed to seed plan: %v", err)
	}

	price := &plan.Price{
		ID:              "price_" + planID,
		PlanID:          planID,
		Provider:        types.ProviderTypeStripe,
		ProviderPriceID: "prc_" + planID,
		Currency:        "usd",
		UnitAmount:      1900,
		BillingPeriod:   types.BillingPeriodMonthly,
		Kind:            types.PriceKindLicensed,
		Role:            types.PriceRoleBase,
		Active:          true,
		Version:         1,
		EffectiveAt:     time.Now().UTC(),
		BaseModel:       types.GetDefaultBaseModel(ctx),
	}
	price.RefreshSellableKey()
	if err := s.GetStores().PriceRepo.Create(ctx, price); err != nil {
		s.T().Fatalf("failed to seed price: %v", err)
	}
	return price
}
