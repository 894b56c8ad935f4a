package outbox

import (
	"encoding/json"
	"time"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// Job is a generic leased async unit of work, deduped by
// (job_type, dedupe_key).
type Job struct {
	ID        string              `db:"id" json:"id"`
	JobType   types.OutboxJobType `db:"job_type" json:"job_type"`
	DedupeKey string              `db:"dedupe_key" json:"dedupe_key"`
	Payload   json.RawMessage     `db:"payload" json:"payload"`

	JobStatus     types.OutboxJobStatus `db:"job_status" json:"job_status"`
	AttemptCount  int                   `db:"attempt_count" json:"attempt_count"`
	NextAttemptAt *time.Time            `db:"next_attempt_at" json:"next_attempt_at"`
	LastError     string                `db:"last_error" json:"last_error"`
	ScheduledAt   time.Time             `db:"scheduled_at" json:"scheduled_at"`
	CompletedAt   *time.Time            `db:"completed_at" json:"completed_at"`

	types.Lease
	types.BaseModel
}

func (j *Job) Validate() error {
	if j.JobType == "" {
		return ierr.NewError("job_type is required").
			WithHint("An outbox job must have a type").
			Mark(ierr.ErrValidation)
	}
	if j.DedupeKey == "" {
		return ierr.NewError("dedupe_key is required").
			WithHint("Outbox jobs are deduplicated by key").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsDue reports whether the job should be picked up at now
func (j *Job) IsDue(now time.Time) bool {
	if j.JobStatus.IsTerminal() {
		return false
	}
	if j.JobStatus == types.OutboxJobStatusLeased && j.Lease.IsHeld(now) {
		return false
	}
	return j.NextAttemptAt == nil || !now.Before(*j.NextAttemptAt)
}
