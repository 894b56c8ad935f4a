package service

import (
	"context"
	"sort"
	"time"

	"github.com/reckonhq/reckon/internal/types"
)

// TimelineEntryKind identifies what a timeline entry describes
type TimelineEntryKind string

const (
	TimelineEntryInvoice      TimelineEntryKind = "invoice"
	TimelineEntryPayment      TimelineEntryKind = "payment"
	TimelineEntrySubscription TimelineEntryKind = "subscription"
)

// TimelineEntry is one item in an entity's billing history
type TimelineEntry struct {
	Kind       TimelineEntryKind  `json:"kind"`
	OccurredAt time.Time          `json:"occurred_at"`
	Provider   types.ProviderType `json:"provider"`

	// Discriminated by Kind
	InvoiceID      string `json:"invoice_id,omitempty"`
	PaymentID      string `json:"payment_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`

	Status   string `json:"status"`
	Amount   int64  `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
	PlanID   string `json:"plan_id,omitempty"`
}

// TimelineService merges invoices, payments, and subscription transitions
// into a single newest-first history for an entity.
type TimelineService interface {
	GetTimeline(ctx context.Context, billableEntityID string, filter *types.QueryFilter) ([]*TimelineEntry, error)
}

type timelineService struct {
	ServiceParams
}

func NewTimelineService(params ServiceParams) TimelineService {
	return &timelineService{ServiceParams: params}
}

func (s *timelineService) GetTimeline(ctx context.Context, billableEntityID string, filter *types.QueryFilter) ([]*TimelineEntry, error) {
	if filter == nil {
		filter = types.NewDefaultQueryFilter()
	}

	invoices, err := s.InvoiceRepo.ListByEntity(ctx, billableEntityID, filter)
	if err != nil {
		return nil, err
	}
	payments, err := s.InvoiceRepo.ListPaymentsByEntity(ctx, billableEntityID, filter)
	if err != nil {
		return nil, err
	}
	subs, err := s.SubscriptionRepo.ListByEntity(ctx, billableEntityID)
	if err != nil {
		return nil, err
	}

	entries := make([]*TimelineEntry, 0, len(invoices)+len(payments)+len(subs))
	for _, inv := range invoices {
		occurredAt := inv.CreatedAt
		if inv.LastProviderEventAt != nil {
			occurredAt = *inv.LastProviderEventAt
		}
		entries = append(entries, &TimelineEntry{
			Kind:       TimelineEntryInvoice,
			OccurredAt: occurredAt,
			Provider:   inv.Provider,
			InvoiceID:  inv.ID,
			Status:     string(inv.InvoiceStatus),
			Amount:     inv.AmountDue,
			Currency:   inv.Currency,
		})
	}
	for _, payment := range payments {
		entries = append(entries, &TimelineEntry{
			Kind:       TimelineEntryPayment,
			OccurredAt: payment.OccurredAt,
			Provider:   payment.Provider,
			PaymentID:  payment.ID,
			InvoiceID:  payment.InvoiceID,
			Status:     string(payment.PaymentStatus),
			Amount:     payment.Amount,
			Currency:   payment.Currency,
		})
	}
	for _, sub := range subs {
		occurredAt := sub.CreatedAt
		if sub.LastProviderEventAt != nil {
			occurredAt = *sub.LastProviderEventAt
		}
		entries = append(entries, &TimelineEntry{
			Kind:           TimelineEntrySubscription,
			OccurredAt:     occurredAt,
			Provider:       sub.Provider,
			SubscriptionID: sub.ID,
			Status:         string(sub.SubscriptionStatus),
			Currency:       sub.Currency,
			PlanID:         sub.PlanID,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OccurredAt.After(entries[j].OccurredAt)
	})

	if limit := filter.GetLimit(); limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
