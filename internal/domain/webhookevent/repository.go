package webhookevent

import (
	"context"

	"github.com/reckonhq/reckon/internal/types"
)

// Repository defines the interface for webhook event storage operations
type Repository interface {
	// Create inserts a fresh event row; a unique-key conflict means the
	// provider retried a delivery already on disk and must be re-read.
	Create(ctx context.Context, event *WebhookEvent) error

	Get(ctx context.Context, id string) (*WebhookEvent, error)
	GetByProviderEventID(ctx context.Context, provider types.ProviderType, providerEventID string) (*WebhookEvent, error)
	Update(ctx context.Context, event *WebhookEvent) error

	// ListFailed returns durably failed events for operators and
	// reconciliation repair.
	ListFailed(ctx context.Context, provider types.ProviderType, limit int) ([]*WebhookEvent, error)
}
