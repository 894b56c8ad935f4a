package paddle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/types"
)

type TranslatorSuite struct {
	suite.Suite
	translator *Translator
}

func TestTranslator(t *testing.T) {
	suite.Run(t, new(TranslatorSuite))
}

func (s *TranslatorSuite) SetupTest() {
	s.translator = NewTranslator()
}

func (s *TranslatorSuite) TestTransactionCompletedBecomesInvoicePaid() {
	payload := []byte(`{
		"event_id": "evt_paddle_1",
		"event_type": "transaction.completed",
		"occurred_at": "2026-08-01T10:30:00Z",
		"data": {
			"id": "txn_1",
			"customer_id": "ctm_1",
			"subscription_id": "sub_1",
			"currency_code": "USD",
			"details": {
				"totals": {
					"total": "12.34",
					"balance": "0"
				}
			},
			"billing_period": {
				"starts_at": "2026-08-01T00:00:00Z",
				"ends_at": "2026-09-01T00:00:00Z"
			}
		}
	}`)

	event, err := s.translator.ToCanonicalEvent(payload)
	s.NoError(err)
	s.Equal("evt_paddle_1", event.ID)
	s.Equal(types.CanonicalEventInvoicePaid, event.Type)
	s.Equal(time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC).Unix(), event.Created)

	obj := event.Data.Object
	s.Equal("ctm_1", obj["customer"])
	s.Equal("sub_1", obj["subscription"])
	s.Equal("USD", obj["currency"])
	s.Equal(int64(0), obj["amount_due"])
	s.Equal(int64(1234), obj["amount_paid"])
	s.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Unix(), obj["period_start"])
	s.Equal(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC).Unix(), obj["period_end"])
}

func (s *TranslatorSuite) TestPartiallyPaidTransaction() {
	payload := []byte(`{
		"event_id": "evt_paddle_2",
		"event_type": "transaction.payment_failed",
		"occurred_at": "2026-08-01T10:30:00Z",
		"data": {
			"id": "txn_2",
			"details": {
				"totals": {
					"grand_total": "50.00",
					"balance": "50.00"
				}
			}
		}
	}`)

	event, err := s.translator.ToCanonicalEvent(payload)
	s.NoError(err)
	s.Equal(types.CanonicalEventInvoicePaymentFailed, event.Type)
	s.Equal(int64(5000), event.Data.Object["amount_due"])
	s.Equal(int64(0), event.Data.Object["amount_paid"])
}

func (s *TranslatorSuite) TestGrandTotalFallbackWhenTotalMissing() {
	payload := []byte(`{
		"event_id": "evt_paddle_8",
		"event_type": "transaction.completed",
		"occurred_at": "2026-08-01T10:30:00Z",
		"data": {
			"id": "txn_4",
			"details": {"totals": {"grand_total": "12.34", "balance": "0"}}
		}
	}`)

	event, err := s.translator.ToCanonicalEvent(payload)
	s.NoError(err)
	s.Equal(int64(1234), event.Data.Object["amount_paid"])
	s.Equal(int64(0), event.Data.Object["amount_due"])
}

func (s *TranslatorSuite) TestSubscriptionEventNormalizesPeriodAndMetadata() {
	payload := []byte(`{
		"event_id": "evt_paddle_3",
		"event_type": "subscription.updated",
		"occurred_at": "2026-08-01T10:30:00Z",
		"data": {
			"id": "sub_1",
			"customer_id": "ctm_1",
			"status": "active",
			"currency_code": "EUR",
			"custom_data": {"billable_entity_id": "be_1"},
			"current_billing_period": {
				"starts_at": "2026-08-01T00:00:00Z",
				"ends_at": "2026-09-01T00:00:00Z"
			}
		}
	}`)

	event, err := s.translator.ToCanonicalEvent(payload)
	s.NoError(err)
	s.Equal(types.CanonicalEventSubscriptionUpdated, event.Type)

	obj := event.Data.Object
	s.Equal("ctm_1", obj["customer"])
	s.Equal("EUR", obj["currency"])
	s.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Unix(), obj["current_period_start"])
	s.Equal(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC).Unix(), obj["current_period_end"])

	metadata, ok := obj["metadata"].(map[string]interface{})
	s.True(ok)
	s.Equal("be_1", metadata["billable_entity_id"])
}

func (s *TranslatorSuite) TestSubscriptionCanceledBecomesDeleted() {
	payload := []byte(`{
		"event_id": "evt_paddle_4",
		"event_type": "subscription.canceled",
		"occurred_at": "2026-08-01T10:30:00Z",
		"data": {"id": "sub_1", "status": "canceled"}
	}`)

	event, err := s.translator.ToCanonicalEvent(payload)
	s.NoError(err)
	s.Equal(types.CanonicalEventSubscriptionDeleted, event.Type)
}

func (s *TranslatorSuite) TestUnknownEventTypePassesThrough() {
	payload := []byte(`{
		"event_id": "evt_paddle_5",
		"event_type": "address.updated",
		"occurred_at": "2026-08-01T10:30:00Z",
		"data": {"id": "add_1"}
	}`)

	event, err := s.translator.ToCanonicalEvent(payload)
	s.NoError(err)
	s.Equal(types.CanonicalEventType("address.updated"), event.Type)
	s.False(s.translator.SupportsCanonicalEventType(event.Type))
}

func (s *TranslatorSuite) TestInvalidJSONRejected() {
	_, err := s.translator.ToCanonicalEvent([]byte(`{"event_id": `))
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *TranslatorSuite) TestSubMinorUnitAmountRejected() {
	payload := []byte(`{
		"event_id": "evt_paddle_6",
		"event_type": "transaction.completed",
		"occurred_at": "2026-08-01T10:30:00Z",
		"data": {
			"id": "txn_3",
			"details": {"totals": {"grand_total": "12.345", "balance": "0"}}
		}
	}`)

	_, err := s.translator.ToCanonicalEvent(payload)
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *TranslatorSuite) TestRawPayloadPreserved() {
	payload := []byte(`{"event_id":"evt_paddle_7","event_type":"subscription.updated","occurred_at":"2026-08-01T10:30:00Z","data":{"id":"sub_1"}}`)
	event, err := s.translator.ToCanonicalEvent(payload)
	s.NoError(err)
	s.JSONEq(string(payload), string(event.Raw))
}

func (s *TranslatorSuite) TestEpochMillisecondsAccepted() {
	at, err := integration.ParseFlexibleTime(float64(1754042400000))
	s.NoError(err)
	s.Equal(time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC), at)
}
