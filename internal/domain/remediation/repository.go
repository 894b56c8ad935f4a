package remediation

import (
	"context"
	"time"
)

// Repository defines the interface for remediation storage operations
type Repository interface {
	// Create inserts a remediation row; a unique-key conflict means the
	// duplicate is already being remediated and reports inserted=false.
	Create(ctx context.Context, rem *Remediation) (inserted bool, err error)

	Get(ctx context.Context, id string) (*Remediation, error)
	Update(ctx context.Context, rem *Remediation) error

	// ListDue returns pending rows whose next attempt time has passed and
	// leased rows whose lease has lapsed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Remediation, error)
}
