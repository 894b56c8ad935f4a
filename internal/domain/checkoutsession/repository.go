package checkoutsession

import (
	"context"
	"time"

	"github.com/reckonhq/reckon/internal/types"
)

// Repository defines the interface for checkout session storage operations
type Repository interface {
	Create(ctx context.Context, session *CheckoutSession) error
	Update(ctx context.Context, session *CheckoutSession) error
	Get(ctx context.Context, id string) (*CheckoutSession, error)
	GetByProviderSessionID(ctx context.Context, provider types.ProviderType, providerSessionID string) (*CheckoutSession, error)
	GetByProviderSubscriptionID(ctx context.Context, provider types.ProviderType, providerSubscriptionID string) (*CheckoutSession, error)
	GetByOperationKey(ctx context.Context, operationKey string) (*CheckoutSession, error)

	// GetBlocking returns the at-most-one blocking session for an entity
	GetBlocking(ctx context.Context, billableEntityID string) (*CheckoutSession, error)

	// ListOpenExpiredBefore returns open sessions whose provider expiry has
	// passed, for the expiry sweep.
	ListOpenExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*CheckoutSession, error)

	// ListPendingReconcile returns completed_pending_subscription sessions
	ListPendingReconcile(ctx context.Context, limit int) ([]*CheckoutSession, error)
}
