package postgres

import (
	"context"

	"github.com/reckonhq/reckon/internal/domain/entitlement"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	"github.com/reckonhq/reckon/internal/types"
)

type ledgerRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewLedgerRepository(db postgres.IClient, logger *logger.Logger) entitlement.LedgerRepository {
	return &ledgerRepository{db: db, logger: logger}
}

const grantColumns = `id, subject_id, definition_id, amount, effective_at, expires_at,
	dedupe_key, source_type, source_id, created_at, created_by`

// InsertGrant appends a grant unless its dedupe key is already on the
// ledger; replays report inserted=false and are never an error.
func (r *ledgerRepository) InsertGrant(ctx context.Context, grant *entitlement.Grant) (bool, error) {
	query := `INSERT INTO entitlement_grants (` + grantColumns + `)
		VALUES (:id, :subject_id, :definition_id, :amount, :effective_at, :expires_at,
			:dedupe_key, :source_type, :source_id, :created_at, :created_by)
		ON CONFLICT (dedupe_key) DO NOTHING`
	res, err := r.db.Querier(ctx).NamedExecContext(ctx, query, grant)
	if err != nil {
		return false, postgres.WrapDBError(err, "entitlement_grant.insert")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, postgres.WrapDBError(err, "entitlement_grant.insert")
	}
	return affected > 0, nil
}

func (r *ledgerRepository) ListGrants(ctx context.Context, subjectID, definitionID string) ([]*entitlement.Grant, error) {
	grants := []*entitlement.Grant{}
	query := `SELECT ` + grantColumns + ` FROM entitlement_grants
		WHERE subject_id = $1 AND definition_id = $2 ORDER BY effective_at`
	if err := r.db.Querier(ctx).SelectContext(ctx, &grants, query, subjectID, definitionID); err != nil {
		return nil, postgres.WrapDBError(err, "entitlement_grant.list")
	}
	return grants, nil
}

const consumptionColumns = `id, subject_id, definition_id, amount, occurred_at,
	dedupe_key, created_at, created_by`

func (r *ledgerRepository) InsertConsumption(ctx context.Context, consumption *entitlement.Consumption) (bool, error) {
	query := `INSERT INTO entitlement_consumptions (` + consumptionColumns + `)
		VALUES (:id, :subject_id, :definition_id, :amount, :occurred_at,
			:dedupe_key, :created_at, :created_by)
		ON CONFLICT (dedupe_key) DO NOTHING`
	res, err := r.db.Querier(ctx).NamedExecContext(ctx, query, consumption)
	if err != nil {
		return false, postgres.WrapDBError(err, "entitlement_consumption.insert")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, postgres.WrapDBError(err, "entitlement_consumption.insert")
	}
	return affected > 0, nil
}

func (r *ledgerRepository) SumConsumption(ctx context.Context, subjectID, definitionID string, window types.EntitlementWindow) (int64, error) {
	var total int64
	if window.Interval == types.WindowIntervalLifetime {
		query := `SELECT COALESCE(SUM(amount), 0) FROM entitlement_consumptions
			WHERE subject_id = $1 AND definition_id = $2`
		if err := r.db.Querier(ctx).GetContext(ctx, &total, query, subjectID, definitionID); err != nil {
			return 0, postgres.WrapDBError(err, "entitlement_consumption.sum")
		}
		return total, nil
	}
	query := `SELECT COALESCE(SUM(amount), 0) FROM entitlement_consumptions
		WHERE subject_id = $1 AND definition_id = $2
		AND occurred_at >= $3 AND occurred_at < $4`
	if err := r.db.Querier(ctx).GetContext(ctx, &total, query,
		subjectID, definitionID, window.Start, window.End); err != nil {
		return 0, postgres.WrapDBError(err, "entitlement_consumption.sum")
	}
	return total, nil
}
