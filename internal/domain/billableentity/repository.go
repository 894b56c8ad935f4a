package billableentity

import (
	"context"
)

// Repository defines the interface for billable entity storage operations
type Repository interface {
	Create(ctx context.Context, entity *BillableEntity) error
	Get(ctx context.Context, id string) (*BillableEntity, error)
	GetByWorkspaceID(ctx context.Context, workspaceID string) (*BillableEntity, error)
	Update(ctx context.Context, entity *BillableEntity) error

	// ListAfter pages entities in id order for reconciliation cursors
	ListAfter(ctx context.Context, afterID string, limit int) ([]*BillableEntity, error)
}
