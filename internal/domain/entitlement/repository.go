package entitlement

import (
	"context"
	"time"

	"github.com/reckonhq/reckon/internal/types"
)

// Repository defines the interface for entitlement definition storage
type Repository interface {
	CreateDefinition(ctx context.Context, def *Definition) error
	GetDefinition(ctx context.Context, id string) (*Definition, error)
	GetDefinitionByCode(ctx context.Context, code string) (*Definition, error)
	ListDefinitions(ctx context.Context) ([]*Definition, error)

	CreatePlanEntitlement(ctx context.Context, pe *PlanEntitlement) error
	ListPlanEntitlements(ctx context.Context, planID string) ([]*PlanEntitlement, error)
}

// LedgerRepository defines the interface for the append-only grant and
// consumption ledgers. Inserts are dedupe-key guarded: a duplicate insert
// reports inserted=false and is never an error.
type LedgerRepository interface {
	InsertGrant(ctx context.Context, grant *Grant) (inserted bool, err error)
	ListGrants(ctx context.Context, subjectID, definitionID string) ([]*Grant, error)

	InsertConsumption(ctx context.Context, consumption *Consumption) (inserted bool, err error)

	// SumConsumption totals ledger debits inside the window; a lifetime
	// window sums everything.
	SumConsumption(ctx context.Context, subjectID, definitionID string, window types.EntitlementWindow) (int64, error)
}

// BalanceRepository defines the interface for the recomputed balance snapshots
type BalanceRepository interface {
	// UpsertBalance persists a snapshot. expectedVersion is the version the
	// caller read before recomputing; a mismatch means a concurrent
	// recompute won and must surface as a version conflict.
	UpsertBalance(ctx context.Context, balance *Balance, expectedVersion int64) error

	GetBalance(ctx context.Context, subjectID, definitionID, windowKey string) (*Balance, error)
	ListBalancesBySubject(ctx context.Context, subjectID string) ([]*Balance, error)

	// ListDueForRecompute returns balances whose next_change_at has passed
	ListDueForRecompute(ctx context.Context, now time.Time, limit int) ([]*Balance, error)
}
