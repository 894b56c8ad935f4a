package subscription

import (
	"context"

	"github.com/reckonhq/reckon/internal/types"
)

// Repository defines the interface for subscription storage operations
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Update(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByProviderSubscriptionID(ctx context.Context, provider types.ProviderType, providerSubscriptionID string) (*Subscription, error)

	// GetCurrent returns the at-most-one current subscription for an entity
	GetCurrent(ctx context.Context, billableEntityID string) (*Subscription, error)

	// ListCurrentLooking returns subscriptions whose provider status is
	// non-terminal, used by duplicate detection.
	ListCurrentLooking(ctx context.Context, billableEntityID string) ([]*Subscription, error)

	ListByEntity(ctx context.Context, billableEntityID string) ([]*Subscription, error)

	// ReplaceItems swaps the full item set of a subscription
	ReplaceItems(ctx context.Context, subscriptionID string, items []*Item) error
	ListItems(ctx context.Context, subscriptionID string) ([]*Item, error)
}
