package invoice

import (
	"context"

	"github.com/reckonhq/reckon/internal/types"
)

// Repository defines the interface for invoice storage operations
type Repository interface {
	Create(ctx context.Context, invoice *Invoice) error
	Update(ctx context.Context, invoice *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	GetByProviderInvoiceID(ctx context.Context, provider types.ProviderType, providerInvoiceID string) (*Invoice, error)
	ListByEntity(ctx context.Context, billableEntityID string, filter *types.QueryFilter) ([]*Invoice, error)

	CreatePayment(ctx context.Context, payment *Payment) error
	GetPaymentByProviderPaymentID(ctx context.Context, provider types.ProviderType, providerPaymentID string) (*Payment, error)
	ListPaymentsByEntity(ctx context.Context, billableEntityID string, filter *types.QueryFilter) ([]*Payment, error)
}
