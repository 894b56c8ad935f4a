package idempotency

import (
	"context"

	"github.com/reckonhq/reckon/internal/types"
)

// Repository defines the interface for idempotency ledger storage operations
type Repository interface {
	// Create inserts a fresh row; a unique-key conflict means another caller
	// holds the same (entity, action, client_key) and must be re-read.
	Create(ctx context.Context, req *Request) error

	Get(ctx context.Context, id string) (*Request, error)
	GetByKey(ctx context.Context, billableEntityID string, action types.IdempotencyAction, clientKey string) (*Request, error)
	GetByOperationKey(ctx context.Context, operationKey string) (*Request, error)

	// Update persists progress fields; implementations must reject writes
	// whose lease version does not match the stored one.
	Update(ctx context.Context, req *Request) error
}
