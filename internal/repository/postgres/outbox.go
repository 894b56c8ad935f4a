package postgres

import (
	"context"
	"time"

	"github.com/reckonhq/reckon/internal/domain/outbox"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	"github.com/reckonhq/reckon/internal/types"
)

type outboxRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewOutboxRepository(db postgres.IClient, logger *logger.Logger) outbox.Repository {
	return &outboxRepository{db: db, logger: logger}
}

const outboxColumns = `id, job_type, dedupe_key, payload, job_status, attempt_count,
	next_attempt_at, last_error, scheduled_at, completed_at,
	lease_owner, lease_expires_at, lease_heartbeat_at, lease_version,
	status, created_at, updated_at, created_by, updated_by`

// Enqueue inserts a job unless one with the same (job_type, dedupe_key) is
// already live; the partial unique index over non-terminal rows makes the
// duplicate insert a no-op reported as inserted=false.
func (r *outboxRepository) Enqueue(ctx context.Context, job *outbox.Job) (bool, error) {
	query := `INSERT INTO outbox_jobs (` + outboxColumns + `)
		VALUES (:id, :job_type, :dedupe_key, :payload, :job_status, :attempt_count,
			:next_attempt_at, :last_error, :scheduled_at, :completed_at,
			:lease_owner, :lease_expires_at, :lease_heartbeat_at, :lease_version,
			:status, :created_at, :updated_at, :created_by, :updated_by)
		ON CONFLICT (job_type, dedupe_key) WHERE job_status NOT IN ('succeeded', 'dead_letter')
		DO NOTHING`
	res, err := r.db.Querier(ctx).NamedExecContext(ctx, query, job)
	if err != nil {
		return false, postgres.WrapDBError(err, "outbox.enqueue")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, postgres.WrapDBError(err, "outbox.enqueue")
	}
	return affected > 0, nil
}

func (r *outboxRepository) Get(ctx context.Context, id string) (*outbox.Job, error) {
	var job outbox.Job
	query := `SELECT ` + outboxColumns + ` FROM outbox_jobs WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &job, query, id); err != nil {
		return nil, postgres.WrapDBError(err, "outbox.get")
	}
	return &job, nil
}

func (r *outboxRepository) Update(ctx context.Context, job *outbox.Job) error {
	query := `UPDATE outbox_jobs SET
		job_status = :job_status,
		attempt_count = :attempt_count,
		next_attempt_at = :next_attempt_at,
		last_error = :last_error,
		completed_at = :completed_at,
		lease_owner = :lease_owner,
		lease_expires_at = :lease_expires_at,
		lease_heartbeat_at = :lease_heartbeat_at,
		lease_version = :lease_version + 1,
		updated_at = :updated_at,
		updated_by = :updated_by
		WHERE id = :id AND lease_version = :lease_version`
	res, err := r.db.Querier(ctx).NamedExecContext(ctx, query, job)
	if err != nil {
		return postgres.WrapDBError(err, "outbox.update")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return postgres.WrapDBError(err, "outbox.update")
	}
	if affected == 0 {
		return ierr.NewError("outbox job was modified by another worker").
			WithHint("Re-read the job before retrying").
			WithReportableDetails(map[string]any{
				"job_id":        job.ID,
				"lease_version": job.Lease.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}
	job.Lease.Version++
	return nil
}

// LeaseDue atomically claims up to limit due jobs for owner, bumping each
// job's attempt count and fencing version. SKIP LOCKED keeps concurrent
// dispatchers from fighting over the same rows.
func (r *outboxRepository) LeaseDue(ctx context.Context, owner string, now time.Time, ttl time.Duration, limit int) ([]*outbox.Job, error) {
	jobs := []*outbox.Job{}
	expires := now.Add(ttl)
	query := `WITH due AS (
		SELECT id FROM outbox_jobs
		WHERE job_status IN ($1, $2, $3)
		AND (next_attempt_at IS NULL OR next_attempt_at <= $4)
		AND (job_status <> $3 OR lease_expires_at IS NULL OR lease_expires_at <= $4)
		ORDER BY scheduled_at
		LIMIT $5
		FOR UPDATE SKIP LOCKED
	)
	UPDATE outbox_jobs j SET
		job_status = $3,
		attempt_count = j.attempt_count + 1,
		lease_owner = $6,
		lease_expires_at = $7,
		lease_heartbeat_at = $4,
		lease_version = j.lease_version + 1,
		updated_at = $4
	FROM due WHERE j.id = due.id
	RETURNING ` + prefixedOutboxColumns
	if err := r.db.Querier(ctx).SelectContext(ctx, &jobs, query,
		types.OutboxJobStatusPending, types.OutboxJobStatusFailed, types.OutboxJobStatusLeased,
		now, limit, owner, expires); err != nil {
		return nil, postgres.WrapDBError(err, "outbox.lease_due")
	}
	return jobs, nil
}

const prefixedOutboxColumns = `j.id, j.job_type, j.dedupe_key, j.payload, j.job_status,
	j.attempt_count, j.next_attempt_at, j.last_error, j.scheduled_at, j.completed_at,
	j.lease_owner, j.lease_expires_at, j.lease_heartbeat_at, j.lease_version,
	j.status, j.created_at, j.updated_at, j.created_by, j.updated_by`
