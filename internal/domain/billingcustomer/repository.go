package billingcustomer

import (
	"context"

	"github.com/reckonhq/reckon/internal/types"
)

// Repository defines the interface for billing customer storage operations
type Repository interface {
	Create(ctx context.Context, customer *BillingCustomer) error
	Get(ctx context.Context, id string) (*BillingCustomer, error)
	GetByProviderCustomerID(ctx context.Context, provider types.ProviderType, providerCustomerID string) (*BillingCustomer, error)
	GetByEntityAndProvider(ctx context.Context, billableEntityID string, provider types.ProviderType) (*BillingCustomer, error)
}
