package outbox

import (
	"context"
	"time"
)

// Repository defines the interface for outbox job storage operations
type Repository interface {
	// Enqueue inserts a job unless one with the same (job_type, dedupe_key)
	// already exists in a non-terminal state; reports whether a row was
	// inserted.
	Enqueue(ctx context.Context, job *Job) (inserted bool, err error)

	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, job *Job) error

	// LeaseDue atomically leases up to limit due jobs for owner
	LeaseDue(ctx context.Context, owner string, now time.Time, ttl time.Duration, limit int) ([]*Job, error)
}
