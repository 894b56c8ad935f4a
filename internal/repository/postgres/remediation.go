package postgres

import (
	"context"
	"time"

	"github.com/reckonhq/reckon/internal/domain/remediation"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	"github.com/reckonhq/reckon/internal/types"
)

type remediationRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewRemediationRepository(db postgres.IClient, logger *logger.Logger) remediation.Repository {
	return &remediationRepository{db: db, logger: logger}
}

const remediationColumns = `id, provider, billable_entity_id, action,
	canonical_provider_subscription_id, duplicate_provider_subscription_id,
	remediation_status, attempt_count, next_attempt_at, last_error, resolved_at,
	lease_owner, lease_expires_at, lease_heartbeat_at, lease_version,
	status, created_at, updated_at, created_by, updated_by`

// Create inserts a remediation unless the duplicate subscription is already
// tracked; replays report inserted=false.
func (r *remediationRepository) Create(ctx context.Context, rem *remediation.Remediation) (bool, error) {
	query := `INSERT INTO remediations (` + remediationColumns + `)
		VALUES (:id, :provider, :billable_entity_id, :action,
			:canonical_provider_subscription_id, :duplicate_provider_subscription_id,
			:remediation_status, :attempt_count, :next_attempt_at, :last_error, :resolved_at,
			:lease_owner, :lease_expires_at, :lease_heartbeat_at, :lease_version,
			:status, :created_at, :updated_at, :created_by, :updated_by)
		ON CONFLICT (provider, duplicate_provider_subscription_id) DO NOTHING`
	res, err := r.db.Querier(ctx).NamedExecContext(ctx, query, rem)
	if err != nil {
		return false, postgres.WrapDBError(err, "remediation.create")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, postgres.WrapDBError(err, "remediation.create")
	}
	return affected > 0, nil
}

func (r *remediationRepository) Get(ctx context.Context, id string) (*remediation.Remediation, error) {
	var rem remediation.Remediation
	query := `SELECT ` + remediationColumns + ` FROM remediations WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &rem, query, id); err != nil {
		return nil, postgres.WrapDBError(err, "remediation.get")
	}
	return &rem, nil
}

// Update writes progress fields guarded by the lease fencing version so a
// worker that lost its lease cannot clobber the current owner's progress.
func (r *remediationRepository) Update(ctx context.Context, rem *remediation.Remediation) error {
	query := `UPDATE remediations SET
		remediation_status = :remediation_status,
		attempt_count = :attempt_count,
		next_attempt_at = :next_attempt_at,
		last_error = :last_error,
		resolved_at = :resolved_at,
		lease_owner = :lease_owner,
		lease_expires_at = :lease_expires_at,
		lease_heartbeat_at = :lease_heartbeat_at,
		lease_version = :lease_version + 1,
		updated_at = :updated_at,
		updated_by = :updated_by
		WHERE id = :id AND lease_version = :lease_version`
	res, err := r.db.Querier(ctx).NamedExecContext(ctx, query, rem)
	if err != nil {
		return postgres.WrapDBError(err, "remediation.update")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return postgres.WrapDBError(err, "remediation.update")
	}
	if affected == 0 {
		return ierr.NewError("remediation was claimed by another worker").
			WithHint("Re-read the remediation before retrying").
			WithReportableDetails(map[string]any{
				"remediation_id": rem.ID,
				"lease_version":  rem.Lease.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}
	rem.Lease.Version++
	return nil
}

func (r *remediationRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*remediation.Remediation, error) {
	rems := []*remediation.Remediation{}
	query := `SELECT ` + remediationColumns + ` FROM remediations
		WHERE (remediation_status = $1 AND (next_attempt_at IS NULL OR next_attempt_at <= $2))
		OR (remediation_status = $3 AND (lease_expires_at IS NULL OR lease_expires_at <= $2))
		ORDER BY created_at LIMIT $4`
	if err := r.db.Querier(ctx).SelectContext(ctx, &rems, query,
		types.RemediationStatusPending, now, types.RemediationStatusLeased, limit); err != nil {
		return nil, postgres.WrapDBError(err, "remediation.list_due")
	}
	return rems, nil
}
