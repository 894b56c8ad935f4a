package stripe

import (
	"encoding/json"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/types"
)

// Translator maps Stripe webhook payloads into canonical events. Stripe's
// native event shape already matches the canonical one, so translation is
// mostly a type whitelist plus invoice amount flattening.
type Translator struct{}

func NewTranslator() *Translator {
	return &Translator{}
}

// nativeToCanonical whitelists the Stripe event types the pipeline consumes.
// Stripe names are already canonical.
var nativeToCanonical = map[string]types.CanonicalEventType{
	"checkout.session.completed":    types.CanonicalEventCheckoutSessionCompleted,
	"checkout.session.expired":      types.CanonicalEventCheckoutSessionExpired,
	"customer.subscription.created": types.CanonicalEventSubscriptionCreated,
	"customer.subscription.updated": types.CanonicalEventSubscriptionUpdated,
	"customer.subscription.deleted": types.CanonicalEventSubscriptionDeleted,
	"invoice.paid":                  types.CanonicalEventInvoicePaid,
	"invoice.payment_failed":        types.CanonicalEventInvoicePaymentFailed,
}

func (t *Translator) SupportsCanonicalEventType(eventType types.CanonicalEventType) bool {
	for _, canonical := range nativeToCanonical {
		if canonical == eventType {
			return true
		}
	}
	return false
}

func (t *Translator) ToCanonicalEvent(payload []byte) (*integration.CanonicalEvent, error) {
	var native struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object map[string]interface{} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &native); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Stripe webhook payload is not valid JSON").
			Mark(ierr.ErrValidation)
	}

	event := &integration.CanonicalEvent{
		ID:      native.ID,
		Created: native.Created,
		Data:    integration.CanonicalEventData{Object: native.Data.Object},
		Raw:     json.RawMessage(payload),
	}

	canonical, ok := nativeToCanonical[native.Type]
	if !ok {
		// unknown types pass through; the pipeline acknowledges and skips them
		event.Type = types.CanonicalEventType(native.Type)
		return event, nil
	}
	event.Type = canonical

	// amounts on Stripe objects are already integer minor units; validate
	// the ones the projection layer reads so bad payloads fail at the edge
	if canonical == types.CanonicalEventInvoicePaid || canonical == types.CanonicalEventInvoicePaymentFailed {
		for _, field := range []string{"amount_due", "amount_paid"} {
			if raw, ok := event.Data.Object[field]; ok {
				minor, err := integration.ParseMinorUnits(raw)
				if err != nil {
					return nil, err
				}
				event.Data.Object[field] = minor
			}
		}
	}

	return event, nil
}
