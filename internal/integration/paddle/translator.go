package paddle

import (
	"encoding/json"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/types"
)

// Translator maps Paddle webhook payloads into canonical events. Paddle
// names and shapes differ from the canonical set: transactions stand in for
// both checkout sessions and invoices, money arrives as decimal strings, and
// timestamps are RFC3339.
type Translator struct{}

func NewTranslator() *Translator {
	return &Translator{}
}

var nativeToCanonical = map[string]types.CanonicalEventType{
	"transaction.completed":      types.CanonicalEventInvoicePaid,
	"transaction.payment_failed": types.CanonicalEventInvoicePaymentFailed,
	"transaction.canceled":       types.CanonicalEventCheckoutSessionExpired,
	"checkout.completed":         types.CanonicalEventCheckoutSessionCompleted,
	"subscription.created":       types.CanonicalEventSubscriptionCreated,
	"subscription.updated":       types.CanonicalEventSubscriptionUpdated,
	"subscription.canceled":      types.CanonicalEventSubscriptionDeleted,
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
		EventID    string                 `json:"event_id"`
		EventType  string                 `json:"event_type"`
		OccurredAt interface{}            `json:"occurred_at"`
		Data       map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(payload, &native); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Paddle webhook payload is not valid JSON").
			Mark(ierr.ErrValidation)
	}

	occurredAt, err := integration.ParseFlexibleTime(native.OccurredAt)
	if err != nil {
		return nil, err
	}

	event := &integration.CanonicalEvent{
		ID:   native.EventID,
		Data: integration.CanonicalEventData{Object: native.Data},
		Raw:  json.RawMessage(payload),
	}
	if !occurredAt.IsZero() {
		event.Created = occurredAt.Unix()
	}

	canonical, ok := nativeToCanonical[native.EventType]
	if !ok {
		event.Type = types.CanonicalEventType(native.EventType)
		return event, nil
	}
	event.Type = canonical

	if err := t.normalizeObject(canonical, event.Data.Object); err != nil {
		return nil, err
	}
	return event, nil
}

// normalizeObject rewrites the Paddle payload in place so the pipeline reads
// the same field names regardless of provider: id, customer, subscription,
// amounts in integer minor units, timestamps in epoch seconds.
func (t *Translator) normalizeObject(canonical types.CanonicalEventType, obj map[string]interface{}) error {
	if obj == nil {
		return nil
	}

	if customer := integration.GetString(obj, "customer_id"); customer != "" {
		obj["customer"] = customer
	}
	if sub := integration.GetString(obj, "subscription_id"); sub != "" {
		obj["subscription"] = sub
	}
	if customData := integration.GetObject(obj, "custom_data"); customData != nil {
		obj["metadata"] = customData
	}

	switch canonical {
	case types.CanonicalEventInvoicePaid, types.CanonicalEventInvoicePaymentFailed:
		return t.normalizeTransactionAmounts(obj)
	case types.CanonicalEventSubscriptionCreated,
		types.CanonicalEventSubscriptionUpdated,
		types.CanonicalEventSubscriptionDeleted:
		return t.normalizeSubscriptionPeriod(obj)
	}
	return nil
}

func (t *Translator) normalizeTransactionAmounts(obj map[string]interface{}) error {
	details := integration.GetObject(obj, "details")
	totals := integration.GetObject(details, "totals")
	if totals == nil {
		return nil
	}

	// "total" is the transaction total; older payloads only carry
	// "grand_total". "balance" is the portion still unpaid.
	totalRaw, ok := totals["total"]
	if !ok || totalRaw == nil {
		totalRaw = totals["grand_total"]
	}
	total, err := integration.ParseMinorUnits(totalRaw)
	if err != nil {
		return err
	}
	balance, err := integration.ParseMinorUnits(totals["balance"])
	if err != nil {
		return err
	}
	obj["amount_paid"] = total - balance
	obj["amount_due"] = balance

	if currency := integration.GetString(obj, "currency_code"); currency != "" {
		obj["currency"] = currency
	}

	if period := integration.GetObject(obj, "billing_period"); period != nil {
		if err := epochField(period, "starts_at", obj, "period_start"); err != nil {
			return err
		}
		if err := epochField(period, "ends_at", obj, "period_end"); err != nil {
			return err
		}
	}
	return nil
}

func (t *Translator) normalizeSubscriptionPeriod(obj map[string]interface{}) error {
	if currency := integration.GetString(obj, "currency_code"); currency != "" {
		obj["currency"] = currency
	}
	period := integration.GetObject(obj, "current_billing_period")
	if period == nil {
		return nil
	}
	if err := epochField(period, "starts_at", obj, "current_period_start"); err != nil {
		return err
	}
	return epochField(period, "ends_at", obj, "current_period_end")
}

func epochField(src map[string]interface{}, srcKey string, dst map[string]interface{}, dstKey string) error {
	parsed, err := integration.ParseFlexibleTime(src[srcKey])
	if err != nil {
		return err
	}
	if !parsed.IsZero() {
		dst[dstKey] = parsed.Unix()
	}
	return nil
}
