package service

import (
	"testing"

	"github.com/stretchr/testify/suite"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/testutil"
	"github.com/reckonhq/reckon/internal/types"
)

type CatalogServiceSuite struct {
	testutil.BaseServiceTestSuite
	service CatalogService
}

func TestCatalogService(t *testing.T) {
	suite.Run(t, new(CatalogServiceSuite))
}

func (s *CatalogServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	s.service = NewCatalogService(params, NewIdempotencyService(params))
}

func (s *CatalogServiceSuite) createPlan(code string) string {
	p, err := s.service.CreatePlan(s.GetContext(), &CreatePlanRequest{
		Code: code,
		Name: "Plan " + code,
	})
	s.NoError(err)
	return p.ID
}

func (s *CatalogServiceSuite) priceRequest(planID string) *CreatePriceRequest {
	return &CreatePriceRequest{
		PlanID:        planID,
		ClientKey:     "price-key-1",
		Currency:      "USD",
		UnitAmount:    1900,
		BillingPeriod: types.BillingPeriodMonthly,
		Kind:          types.PriceKindLicensed,
		Role:          types.PriceRoleBase,
	}
}

func (s *CatalogServiceSuite) TestCreatePlanAndGet() {
	ctx := s.GetContext()
	planID := s.createPlan("pro")

	view, err := s.service.GetPlan(ctx, planID)
	s.NoError(err)
	s.Equal("pro", view.Plan.Code)
	s.Empty(view.Prices)
}

func (s *CatalogServiceSuite) TestDuplicatePlanCodeRejected() {
	s.createPlan("pro")
	_, err := s.service.CreatePlan(s.GetContext(), &CreatePlanRequest{
		Code: "pro",
		Name: "Pro again",
	})
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))
}

func (s *CatalogServiceSuite) TestCreatePriceAtProvider() {
	ctx := s.GetContext()
	planID := s.createPlan("pro")

	price, err := s.service.CreatePrice(ctx, s.priceRequest(planID))
	s.NoError(err)
	s.NotEmpty(price.ProviderPriceID)
	s.Equal("usd", price.Currency)
	s.Equal(int64(1900), price.UnitAmount)
	s.Equal(1, price.Version)
	s.True(price.Active)
	s.True(price.IsSellable())
	s.NotNil(price.SellableKey)
}

func (s *CatalogServiceSuite) TestProviderPriceCreationReplaysOnSameKey() {
	ctx := s.GetContext()
	planID := s.createPlan("pro")

	first, err := s.service.CreatePrice(ctx, s.priceRequest(planID))
	s.NoError(err)
	s.NoError(s.retirePriceQuietly(first.ID))

	// same client key replays the provider creation instead of re-calling
	second, err := s.service.CreatePrice(ctx, s.priceRequest(planID))
	s.NoError(err)
	s.Equal(first.ProviderPriceID, second.ProviderPriceID)
	s.Equal(first.Version+1, second.Version)
}

func (s *CatalogServiceSuite) TestSecondSellablePriceRejected() {
	ctx := s.GetContext()
	planID := s.createPlan("pro")

	_, err := s.service.CreatePrice(ctx, s.priceRequest(planID))
	s.NoError(err)

	req := s.priceRequest(planID)
	req.ClientKey = "price-key-2"
	req.UnitAmount = 2900
	_, err = s.service.CreatePrice(ctx, req)
	s.Error(err)
	s.True(ierr.IsAlreadyExists(err))
}

func (s *CatalogServiceSuite) TestRetireFreesSellableSlot() {
	ctx := s.GetContext()
	planID := s.createPlan("pro")

	first, err := s.service.CreatePrice(ctx, s.priceRequest(planID))
	s.NoError(err)

	retired, err := s.service.RetirePrice(ctx, first.ID)
	s.NoError(err)
	s.False(retired.Active)
	s.Nil(retired.SellableKey)

	req := s.priceRequest(planID)
	req.ClientKey = "price-key-2"
	req.UnitAmount = 2900
	replacement, err := s.service.CreatePrice(ctx, req)
	s.NoError(err)
	s.True(replacement.IsSellable())
	s.Equal(first.Version+1, replacement.Version)
}

func (s *CatalogServiceSuite) TestCreatePriceWithExistingProviderID() {
	ctx := s.GetContext()
	planID := s.createPlan("pro")

	req := s.priceRequest(planID)
	req.ProviderPriceID = "prc_imported"
	price, err := s.service.CreatePrice(ctx, req)
	s.NoError(err)
	s.Equal("prc_imported", price.ProviderPriceID)
}

func (s *CatalogServiceSuite) TestListPlansIncludesPrices() {
	ctx := s.GetContext()
	planID := s.createPlan("pro")
	s.createPlan("starter")

	_, err := s.service.CreatePrice(ctx, s.priceRequest(planID))
	s.NoError(err)

	views, err := s.service.ListPlans(ctx, types.NewDefaultQueryFilter())
	s.NoError(err)
	s.Len(views, 2)

	total := 0
	for _, view := range views {
		total += len(view.Prices)
	}
	s.Equal(1, total)
}

func (s *CatalogServiceSuite) retirePriceQuietly(priceID string) error {
	_, err := s.service.RetirePrice(s.GetContext(), priceID)
	return err
}
