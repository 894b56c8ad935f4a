package plan

import (
	"context"

	"github.com/reckonhq/reckon/internal/types"
)

// Repository defines the interface for plan storage operations
type Repository interface {
	Create(ctx context.Context, plan *Plan) error
	Get(ctx context.Context, id string) (*Plan, error)
	GetByCode(ctx context.Context, code string) (*Plan, error)
	List(ctx context.Context, filter *types.QueryFilter) ([]*Plan, error)
}

// PriceRepository defines the interface for plan price storage operations
type PriceRepository interface {
	Create(ctx context.Context, price *Price) error
	Get(ctx context.Context, id string) (*Price, error)
	Update(ctx context.Context, price *Price) error
	GetByProviderPriceID(ctx context.Context, provider types.ProviderType, providerPriceID string) (*Price, error)
	GetSellable(ctx context.Context, planID string, provider types.ProviderType) (*Price, error)
	ListByPlan(ctx context.Context, planID string) ([]*Price, error)
}
