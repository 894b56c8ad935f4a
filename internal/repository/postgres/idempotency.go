package postgres

import (
	"context"

	"github.com/reckonhq/reckon/internal/domain/idempotency"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	"github.com/reckonhq/reckon/internal/types"
)

type idempotencyRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewIdempotencyRepository(db postgres.IClient, logger *logger.Logger) idempotency.Repository {
	return &idempotencyRepository{db: db, logger: logger}
}

const idempotencyColumns = `id, billable_entity_id, action, client_key, request_hash,
	operation_key, frozen_params, provider_idempotency_key, request_status, response,
	error_text, pending_key, recovery_attempt_count,
	lease_owner, lease_expires_at, lease_heartbeat_at, lease_version,
	status, created_at, updated_at, created_by, updated_by`

func (r *idempotencyRepository) Create(ctx context.Context, req *idempotency.Request) error {
	query := `INSERT INTO idempotency_requests (` + idempotencyColumns + `)
		VALUES (:id, :billable_entity_id, :action, :client_key, :request_hash,
			:operation_key, :frozen_params, :provider_idempotency_key, :request_status, :response,
			:error_text, :pending_key, :recovery_attempt_count,
			:lease_owner, :lease_expires_at, :lease_heartbeat_at, :lease_version,
			:status, :created_at, :updated_at, :created_by, :updated_by)`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, req)
	return postgres.WrapDBError(err, "idempotency.create")
}

func (r *idempotencyRepository) Get(ctx context.Context, id string) (*idempotency.Request, error) {
	var req idempotency.Request
	query := `SELECT ` + idempotencyColumns + ` FROM idempotency_requests WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &req, query, id); err != nil {
		return nil, postgres.WrapDBError(err, "idempotency.get")
	}
	return &req, nil
}

func (r *idempotencyRepository) GetByKey(ctx context.Context, billableEntityID string, action types.IdempotencyAction, clientKey string) (*idempotency.Request, error) {
	var req idempotency.Request
	query := `SELECT ` + idempotencyColumns + ` FROM idempotency_requests
		WHERE billable_entity_id = $1 AND action = $2 AND client_key = $3`
	if err := r.db.Querier(ctx).GetContext(ctx, &req, query, billableEntityID, action, clientKey); err != nil {
		return nil, postgres.WrapDBError(err, "idempotency.get_by_key")
	}
	return &req, nil
}

func (r *idempotencyRepository) GetByOperationKey(ctx context.Context, operationKey string) (*idempotency.Request, error) {
	var req idempotency.Request
	query := `SELECT ` + idempotencyColumns + ` FROM idempotency_requests WHERE operation_key = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &req, query, operationKey); err != nil {
		return nil, postgres.WrapDBError(err, "idempotency.get_by_operation_key")
	}
	return &req, nil
}

// Update writes progress fields guarded by the lease fencing version: the
// stored version must equal the one the caller read, and the write bumps
// it. A writer holding a stale read gets a version conflict instead of
// silently clobbering the current owner's progress.
func (r *idempotencyRepository) Update(ctx context.Context, req *idempotency.Request) error {
	query := `UPDATE idempotency_requests SET
		request_status = :request_status,
		response = :response,
		error_text = :error_text,
		pending_key = :pending_key,
		frozen_params = :frozen_params,
		provider_idempotency_key = :provider_idempotency_key,
		recovery_attempt_count = :recovery_attempt_count,
		lease_owner = :lease_owner,
		lease_expires_at = :lease_expires_at,
		lease_heartbeat_at = :lease_heartbeat_at,
		lease_version = :lease_version + 1,
		updated_at = :updated_at,
		updated_by = :updated_by
		WHERE id = :id AND lease_version = :lease_version`
	res, err := r.db.Querier(ctx).NamedExecContext(ctx, query, req)
	if err != nil {
		return postgres.WrapDBError(err, "idempotency.update")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return postgres.WrapDBError(err, "idempotency.update")
	}
	if affected == 0 {
		return ierr.NewError("idempotency request was modified by another worker").
			WithHint("Re-read the request before retrying").
			WithReportableDetails(map[string]any{
				"request_id":    req.ID,
				"lease_version": req.Lease.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}
	req.Lease.Version++
	return nil
}
