package reconciliation

import (
	"encoding/json"
	"time"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// Run is one reconciliation pass over a (provider, scope). ActiveKey is
// non-null while the run is live; a partial unique index over
// (provider, scope, active_key) allows at most one active run at a time.
type Run struct {
	ID        string                     `db:"id" json:"id"`
	Provider  types.ProviderType         `db:"provider" json:"provider"`
	Scope     types.ReconciliationScope  `db:"scope" json:"scope"`
	RunStatus types.ReconciliationStatus `db:"run_status" json:"run_status"`
	ActiveKey *string                    `db:"active_key" json:"active_key,omitempty"`

	// Cursor allows a crashed run to resume rather than restart
	Cursor json.RawMessage `db:"cursor" json:"cursor"`

	ScannedCount       int `db:"scanned_count" json:"scanned_count"`
	DriftDetectedCount int `db:"drift_detected_count" json:"drift_detected_count"`
	RepairedCount      int `db:"repaired_count" json:"repaired_count"`

	Summary    json.RawMessage `db:"summary" json:"summary"`
	StartedAt  time.Time       `db:"started_at" json:"started_at"`
	FinishedAt *time.Time      `db:"finished_at" json:"finished_at"`

	types.Lease
	types.BaseModel
}

// Cursor is the resumable scan position persisted between batches
type Cursor struct {
	AfterEntityID string `json:"after_entity_id"`
}

func (r *Run) Validate() error {
	if err := r.Provider.Validate(); err != nil {
		return err
	}
	if err := r.Scope.Validate(); err != nil {
		return err
	}
	return nil
}

// RefreshActiveKey recomputes the partial-uniqueness key. Must be called
// before persisting any status change.
func (r *Run) RefreshActiveKey() {
	if !r.RunStatus.IsTerminal() {
		key := "active"
		r.ActiveKey = &key
	} else {
		r.ActiveKey = nil
	}
}

// Finish moves the run to a terminal status with a summary
func (r *Run) Finish(status types.ReconciliationStatus, now time.Time, summary json.RawMessage) error {
	if !status.IsTerminal() {
		return ierr.NewError("finish requires a terminal status").
			WithHint("Reconciliation runs finish as succeeded or failed").
			WithReportableDetails(map[string]any{"status": status}).
			Mark(ierr.ErrInvalidOperation)
	}
	r.RunStatus = status
	r.FinishedAt = &now
	r.Summary = summary
	r.Lease = r.Lease.Release()
	r.RefreshActiveKey()
	return nil
}
