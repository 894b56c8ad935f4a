package types

// WebhookEventStatus is the processing status of an inbound provider event
type WebhookEventStatus string

const (
	WebhookEventStatusReceived   WebhookEventStatus = "received"
	WebhookEventStatusProcessing WebhookEventStatus = "processing"
	WebhookEventStatusProcessed  WebhookEventStatus = "processed"
	WebhookEventStatusFailed     WebhookEventStatus = "failed"
)

// IsTerminalSuccess reports whether reprocessing should be skipped entirely
func (s WebhookEventStatus) IsTerminalSuccess() bool {
	return s == WebhookEventStatusProcessed
}
