package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/reckonhq/reckon/internal/domain/invoice"
	"github.com/reckonhq/reckon/internal/domain/subscription"
	"github.com/reckonhq/reckon/internal/testutil"
	"github.com/reckonhq/reckon/internal/types"
)

type TimelineServiceSuite struct {
	testutil.BaseServiceTestSuite
	service TimelineService
}

func TestTimelineService(t *testing.T) {
	suite.Run(t, new(TimelineServiceSuite))
}

func (s *TimelineServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewTimelineService(newTestServiceParams(&s.BaseServiceTestSuite))
}

func (s *TimelineServiceSuite) seedHistory(base time.Time) {
	ctx := s.GetContext()

	subCreated := base.Add(-3 * time.Hour)
	sub := &subscription.Subscription{
		ID:                     "sub_1",
		BillableEntityID:       "be_1",
		Provider:               types.ProviderTypeStripe,
		ProviderSubscriptionID: "psub_1",
		SubscriptionStatus:     types.SubscriptionStatusActive,
		PlanID:                 "plan_pro",
		Currency:               "usd",
		IsCurrent:              true,
		LastProviderEventAt:    &subCreated,
		BaseModel:              types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().SubscriptionRepo.Create(ctx, sub))

	invoicedAt := base.Add(-2 * time.Hour)
	inv := &invoice.Invoice{
		ID:                  "inv_1",
		BillableEntityID:    "be_1",
		Provider:            types.ProviderTypeStripe,
		ProviderInvoiceID:   "in_1",
		InvoiceStatus:       types.InvoiceStatusPaid,
		Currency:            "usd",
		AmountDue:           1900,
		AmountPaid:          1900,
		LastProviderEventAt: &invoicedAt,
		BaseModel:           types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().InvoiceRepo.Create(ctx, inv))

	payment := &invoice.Payment{
		ID:                "pay_1",
		InvoiceID:         "inv_1",
		BillableEntityID:  "be_1",
		Provider:          types.ProviderTypeStripe,
		ProviderPaymentID: "pi_1",
		PaymentStatus:     types.PaymentStatusSucceeded,
		Amount:            1900,
		Currency:          "usd",
		OccurredAt:        base.Add(-time.Hour),
		BaseModel:         types.GetDefaultBaseModel(ctx),
	}
	s.NoError(s.GetStores().InvoiceRepo.CreatePayment(ctx, payment))
}

func (s *TimelineServiceSuite) TestMergedNewestFirst() {
	base := time.Now().UTC()
	s.seedHistory(base)

	entries, err := s.service.GetTimeline(s.GetContext(), "be_1", nil)
	s.NoError(err)
	s.Len(entries, 3)

	s.Equal(TimelineEntryPayment, entries[0].Kind)
	s.Equal("pay_1", entries[0].PaymentID)
	s.Equal("inv_1", entries[0].InvoiceID)

	s.Equal(TimelineEntryInvoice, entries[1].Kind)
	s.Equal(int64(1900), entries[1].Amount)

	s.Equal(TimelineEntrySubscription, entries[2].Kind)
	s.Equal("plan_pro", entries[2].PlanID)
	s.Equal("active", entries[2].Status)
}

func (s *TimelineServiceSuite) TestLimitApplied() {
	base := time.Now().UTC()
	s.seedHistory(base)

	filter := types.NewDefaultQueryFilter()
	limit := 2
	filter.Limit = &limit

	entries, err := s.service.GetTimeline(s.GetContext(), "be_1", filter)
	s.NoError(err)
	s.Len(entries, 2)
	s.Equal(TimelineEntryPayment, entries[0].Kind)
}

func (s *TimelineServiceSuite) TestEmptyForUnknownEntity() {
	entries, err := s.service.GetTimeline(s.GetContext(), "be_missing", nil)
	s.NoError(err)
	s.Empty(entries)
}
