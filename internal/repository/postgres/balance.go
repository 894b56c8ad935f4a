package postgres

import (
	"context"
	"time"

	"github.com/reckonhq/reckon/internal/domain/entitlement"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
)

type balanceRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewBalanceRepository(db postgres.IClient, logger *logger.Logger) entitlement.BalanceRepository {
	return &balanceRepository{db: db, logger: logger}
}

const balanceColumns = `id, subject_id, definition_id, window_key, window_start, window_end,
	granted_amount, consumed_amount, effective_amount, over_limit, lock_state, version,
	next_change_at, computed_at, created_at, updated_at`

// UpsertBalance persists a snapshot guarded by the version the caller read:
// inserts demand expectedVersion 0, updates demand an exact match. A miss
// means a concurrent recompute won and surfaces as a version conflict.
func (r *balanceRepository) UpsertBalance(ctx context.Context, balance *entitlement.Balance, expectedVersion int64) error {
	q := r.db.Querier(ctx)

	if expectedVersion == 0 {
		query := `INSERT INTO entitlement_balances (` + balanceColumns + `)
			VALUES (:id, :subject_id, :definition_id, :window_key, :window_start, :window_end,
				:granted_amount, :consumed_amount, :effective_amount, :over_limit, :lock_state, :version,
				:next_change_at, :computed_at, :created_at, :updated_at)
			ON CONFLICT (subject_id, definition_id, window_key) DO NOTHING`
		res, err := q.NamedExecContext(ctx, query, balance)
		if err != nil {
			return postgres.WrapDBError(err, "entitlement_balance.insert")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return postgres.WrapDBError(err, "entitlement_balance.insert")
		}
		if affected == 0 {
			return versionConflict(balance, expectedVersion)
		}
		return nil
	}

	query := `UPDATE entitlement_balances SET
		window_start = $1,
		window_end = $2,
		granted_amount = $3,
		consumed_amount = $4,
		effective_amount = $5,
		over_limit = $6,
		lock_state = $7,
		version = $8,
		next_change_at = $9,
		computed_at = $10,
		updated_at = $11
		WHERE subject_id = $12 AND definition_id = $13 AND window_key = $14 AND version = $15`
	res, err := q.ExecContext(ctx, query,
		balance.WindowStart, balance.WindowEnd,
		balance.GrantedAmount, balance.ConsumedAmount, balance.EffectiveAmount,
		balance.OverLimit, balance.LockState, balance.Version,
		balance.NextChangeAt, balance.ComputedAt, time.Now().UTC(),
		balance.SubjectID, balance.DefinitionID, balance.WindowKey, expectedVersion)
	if err != nil {
		return postgres.WrapDBError(err, "entitlement_balance.update")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return postgres.WrapDBError(err, "entitlement_balance.update")
	}
	if affected == 0 {
		return versionConflict(balance, expectedVersion)
	}
	return nil
}

func versionConflict(balance *entitlement.Balance, expectedVersion int64) error {
	return ierr.NewError("balance was recomputed concurrently").
		WithHint("Re-read the balance and recompute").
		WithReportableDetails(map[string]any{
			"subject_id":       balance.SubjectID,
			"definition_id":    balance.DefinitionID,
			"window_key":       balance.WindowKey,
			"expected_version": expectedVersion,
		}).
		Mark(ierr.ErrVersionConflict)
}

func (r *balanceRepository) GetBalance(ctx context.Context, subjectID, definitionID, windowKey string) (*entitlement.Balance, error) {
	var balance entitlement.Balance
	query := `SELECT ` + balanceColumns + ` FROM entitlement_balances
		WHERE subject_id = $1 AND definition_id = $2 AND window_key = $3`
	if err := r.db.Querier(ctx).GetContext(ctx, &balance, query, subjectID, definitionID, windowKey); err != nil {
		return nil, postgres.WrapDBError(err, "entitlement_balance.get")
	}
	return &balance, nil
}

func (r *balanceRepository) ListBalancesBySubject(ctx context.Context, subjectID string) ([]*entitlement.Balance, error) {
	balances := []*entitlement.Balance{}
	query := `SELECT ` + balanceColumns + ` FROM entitlement_balances
		WHERE subject_id = $1 ORDER BY definition_id, window_key`
	if err := r.db.Querier(ctx).SelectContext(ctx, &balances, query, subjectID); err != nil {
		return nil, postgres.WrapDBError(err, "entitlement_balance.list_by_subject")
	}
	return balances, nil
}

func (r *balanceRepository) ListDueForRecompute(ctx context.Context, now time.Time, limit int) ([]*entitlement.Balance, error) {
	balances := []*entitlement.Balance{}
	query := `SELECT ` + balanceColumns + ` FROM entitlement_balances
		WHERE next_change_at IS NOT NULL AND next_change_at <= $1
		ORDER BY next_change_at LIMIT $2`
	if err := r.db.Querier(ctx).SelectContext(ctx, &balances, query, now, limit); err != nil {
		return nil, postgres.WrapDBError(err, "entitlement_balance.list_due")
	}
	return balances, nil
}
