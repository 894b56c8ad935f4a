package reconciliation

import (
	"context"

	"github.com/reckonhq/reckon/internal/types"
)

// Repository defines the interface for reconciliation run storage operations
type Repository interface {
	// Create inserts a new run; a unique-key conflict means another run is
	// already active for the (provider, scope).
	Create(ctx context.Context, run *Run) error

	Get(ctx context.Context, id string) (*Run, error)
	GetActive(ctx context.Context, provider types.ProviderType, scope types.ReconciliationScope) (*Run, error)
	Update(ctx context.Context, run *Run) error
}
