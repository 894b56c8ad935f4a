package postgres

import (
	"context"

	"github.com/reckonhq/reckon/internal/domain/reconciliation"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	"github.com/reckonhq/reckon/internal/types"
)

type reconciliationRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewReconciliationRepository(db postgres.IClient, logger *logger.Logger) reconciliation.Repository {
	return &reconciliationRepository{db: db, logger: logger}
}

const reconciliationColumns = `id, provider, scope, run_status, active_key, cursor,
	scanned_count, drift_detected_count, repaired_count, summary, started_at, finished_at,
	lease_owner, lease_expires_at, lease_heartbeat_at, lease_version,
	status, created_at, updated_at, created_by, updated_by`

func (r *reconciliationRepository) Create(ctx context.Context, run *reconciliation.Run) error {
	query := `INSERT INTO reconciliation_runs (` + reconciliationColumns + `)
		VALUES (:id, :provider, :scope, :run_status, :active_key, :cursor,
			:scanned_count, :drift_detected_count, :repaired_count, :summary, :started_at, :finished_at,
			:lease_owner, :lease_expires_at, :lease_heartbeat_at, :lease_version,
			:status, :created_at, :updated_at, :created_by, :updated_by)`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, run)
	return postgres.WrapDBError(err, "reconciliation.create")
}

func (r *reconciliationRepository) Get(ctx context.Context, id string) (*reconciliation.Run, error) {
	var run reconciliation.Run
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliation_runs WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &run, query, id); err != nil {
		return nil, postgres.WrapDBError(err, "reconciliation.get")
	}
	return &run, nil
}

func (r *reconciliationRepository) GetActive(ctx context.Context, provider types.ProviderType, scope types.ReconciliationScope) (*reconciliation.Run, error) {
	var run reconciliation.Run
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliation_runs
		WHERE provider = $1 AND scope = $2 AND active_key IS NOT NULL`
	if err := r.db.Querier(ctx).GetContext(ctx, &run, query, provider, scope); err != nil {
		return nil, postgres.WrapDBError(err, "reconciliation.get_active")
	}
	return &run, nil
}

func (r *reconciliationRepository) Update(ctx context.Context, run *reconciliation.Run) error {
	query := `UPDATE reconciliation_runs SET
		run_status = :run_status,
		active_key = :active_key,
		cursor = :cursor,
		scanned_count = :scanned_count,
		drift_detected_count = :drift_detected_count,
		repaired_count = :repaired_count,
		summary = :summary,
		finished_at = :finished_at,
		lease_owner = :lease_owner,
		lease_expires_at = :lease_expires_at,
		lease_heartbeat_at = :lease_heartbeat_at,
		lease_version = :lease_version + 1,
		updated_at = :updated_at,
		updated_by = :updated_by
		WHERE id = :id AND lease_version = :lease_version`
	res, err := r.db.Querier(ctx).NamedExecContext(ctx, query, run)
	if err != nil {
		return postgres.WrapDBError(err, "reconciliation.update")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return postgres.WrapDBError(err, "reconciliation.update")
	}
	if affected == 0 {
		return ierr.NewError("reconciliation run was claimed by another runner").
			WithHint("Another runner resumed this run").
			WithReportableDetails(map[string]any{
				"run_id":        run.ID,
				"lease_version": run.Lease.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}
	run.Lease.Version++
	return nil
}
