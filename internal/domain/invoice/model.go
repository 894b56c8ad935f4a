package invoice

import (
	"time"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// Invoice is an append-mostly projection of a provider invoice
type Invoice struct {
	ID                     string              `db:"id" json:"id"`
	BillableEntityID       string              `db:"billable_entity_id" json:"billable_entity_id"`
	Provider               types.ProviderType  `db:"provider" json:"provider"`
	ProviderInvoiceID      string              `db:"provider_invoice_id" json:"provider_invoice_id"`
	ProviderSubscriptionID string              `db:"provider_subscription_id" json:"provider_subscription_id"`
	SubscriptionID         string              `db:"subscription_id" json:"subscription_id"`
	InvoiceStatus          types.InvoiceStatus `db:"invoice_status" json:"invoice_status"`
	Currency               string              `db:"currency" json:"currency"`

	// Minor units
	AmountDue  int64 `db:"amount_due" json:"amount_due"`
	AmountPaid int64 `db:"amount_paid" json:"amount_paid"`

	PeriodStart *time.Time `db:"period_start" json:"period_start"`
	PeriodEnd   *time.Time `db:"period_end" json:"period_end"`

	LastProviderEventID string     `db:"last_provider_event_id" json:"last_provider_event_id"`
	LastProviderEventAt *time.Time `db:"last_provider_event_at" json:"last_provider_event_at"`

	types.BaseModel
}

func (i *Invoice) Validate() error {
	if i.BillableEntityID == "" {
		return ierr.NewError("billable_entity_id is required").
			WithHint("An invoice must belong to a billable entity").
			Mark(ierr.ErrValidation)
	}
	if err := i.Provider.Validate(); err != nil {
		return err
	}
	if i.ProviderInvoiceID == "" {
		return ierr.NewError("provider_invoice_id is required").
			WithHint("An invoice must have a provider invoice id").
			Mark(ierr.ErrValidation)
	}
	if i.AmountDue < 0 || i.AmountPaid < 0 {
		return ierr.NewError("invoice amounts must not be negative").
			WithHint("Amounts are integer minor units").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsStaleEvent reports whether an inbound provider event is older than the
// watermark already applied to this row.
func (i *Invoice) IsStaleEvent(eventAt time.Time) bool {
	return i.LastProviderEventAt != nil && eventAt.Before(*i.LastProviderEventAt)
}

// Payment is an append-only record of a provider payment against an invoice
type Payment struct {
	ID                string              `db:"id" json:"id"`
	InvoiceID         string              `db:"invoice_id" json:"invoice_id"`
	BillableEntityID  string              `db:"billable_entity_id" json:"billable_entity_id"`
	Provider          types.ProviderType  `db:"provider" json:"provider"`
	ProviderPaymentID string              `db:"provider_payment_id" json:"provider_payment_id"`
	PaymentStatus     types.PaymentStatus `db:"payment_status" json:"payment_status"`
	Amount            int64               `db:"amount" json:"amount"`
	Currency          string              `db:"currency" json:"currency"`
	OccurredAt        time.Time           `db:"occurred_at" json:"occurred_at"`
	types.BaseModel
}
