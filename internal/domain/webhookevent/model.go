package webhookevent

import (
	"encoding/json"
	"time"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// WebhookEvent is one inbound provider event, unique per
// (provider, provider_event_id) so provider retries are harmless.
// Correlation fields are filled in as soon as they can be derived, even when
// processing ultimately fails, so operators and reconciliation can find and
// repair the event later.
type WebhookEvent struct {
	ID              string                   `db:"id" json:"id"`
	Provider        types.ProviderType       `db:"provider" json:"provider"`
	ProviderEventID string                   `db:"provider_event_id" json:"provider_event_id"`
	CanonicalType   types.CanonicalEventType `db:"canonical_type" json:"canonical_type"`
	EventStatus     types.WebhookEventStatus `db:"event_status" json:"event_status"`

	// Correlation
	BillableEntityID *string `db:"billable_entity_id" json:"billable_entity_id,omitempty"`
	OperationKey     *string `db:"operation_key" json:"operation_key,omitempty"`

	Payload      json.RawMessage `db:"payload" json:"payload"`
	ErrorText    string          `db:"error_text" json:"error_text"`
	AttemptCount int             `db:"attempt_count" json:"attempt_count"`

	ReceivedAt   time.Time  `db:"received_at" json:"received_at"`
	ProcessedAt  *time.Time `db:"processed_at" json:"processed_at"`
	LastFailedAt *time.Time `db:"last_failed_at" json:"last_failed_at"`

	types.BaseModel
}

func (e *WebhookEvent) Validate() error {
	if err := e.Provider.Validate(); err != nil {
		return err
	}
	if e.ProviderEventID == "" {
		return ierr.NewError("provider_event_id is required").
			WithHint("Webhook events without an id cannot be deduplicated").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// MarkProcessed records a successful application
func (e *WebhookEvent) MarkProcessed(now time.Time) {
	e.EventStatus = types.WebhookEventStatusProcessed
	e.ProcessedAt = &now
	e.AttemptCount++
	e.UpdatedAt = now
}

// MarkFailed records a durable failure, appending to the error text so
// earlier failure causes are not lost across retries.
func (e *WebhookEvent) MarkFailed(now time.Time, cause string) {
	e.EventStatus = types.WebhookEventStatusFailed
	e.LastFailedAt = &now
	e.AttemptCount++
	if e.ErrorText != "" {
		e.ErrorText += "\n"
	}
	e.ErrorText += cause
	e.UpdatedAt = now
}
