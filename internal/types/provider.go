package types

import (
	ierr "github.com/reckonhq/reckon/internal/errors"
)

// ProviderType identifies a payment provider integration
type ProviderType string

const (
	ProviderTypeStripe ProviderType = "stripe"
	ProviderTypePaddle ProviderType = "paddle"
)

// Validate validates the provider type
func (p ProviderType) Validate() error {
	switch p {
	case ProviderTypeStripe, ProviderTypePaddle:
		return nil
	default:
		return ierr.NewError("invalid payment provider").
			WithHint("Please provide a valid payment provider").
			WithReportableDetails(map[string]any{
				"allowed": []ProviderType{
					ProviderTypeStripe,
					ProviderTypePaddle,
				},
			}).
			Mark(ierr.ErrValidation)
	}
}

func (p ProviderType) String() string {
	return string(p)
}

// CanonicalEventType is the provider-agnostic webhook event type.
// Every provider's event translator maps native payloads into this set.
type CanonicalEventType string

const (
	CanonicalEventCheckoutSessionCompleted CanonicalEventType = "checkout.session.completed"
	CanonicalEventCheckoutSessionExpired   CanonicalEventType = "checkout.session.expired"
	CanonicalEventSubscriptionCreated      CanonicalEventType = "customer.subscription.created"
	CanonicalEventSubscriptionUpdated      CanonicalEventType = "customer.subscription.updated"
	CanonicalEventSubscriptionDeleted      CanonicalEventType = "customer.subscription.deleted"
	CanonicalEventInvoicePaid              CanonicalEventType = "invoice.paid"
	CanonicalEventInvoicePaymentFailed     CanonicalEventType = "invoice.payment_failed"
)

// CanonicalEventTypes is the full processable set
var CanonicalEventTypes = []CanonicalEventType{
	CanonicalEventCheckoutSessionCompleted,
	CanonicalEventCheckoutSessionExpired,
	CanonicalEventSubscriptionCreated,
	CanonicalEventSubscriptionUpdated,
	CanonicalEventSubscriptionDeleted,
	CanonicalEventInvoicePaid,
	CanonicalEventInvoicePaymentFailed,
}

// IsProcessable reports whether the pipeline applies effects for this type
func (t CanonicalEventType) IsProcessable() bool {
	for _, known := range CanonicalEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t CanonicalEventType) String() string {
	return string(t)
}
