package postgres

import (
	"context"

	"github.com/reckonhq/reckon/internal/domain/billableentity"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
)

type billableEntityRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewBillableEntityRepository(db postgres.IClient, logger *logger.Logger) billableentity.Repository {
	return &billableEntityRepository{db: db, logger: logger}
}

const billableEntityColumns = `id, workspace_id, display_name, status, created_at, updated_at, created_by, updated_by`

func (r *billableEntityRepository) Create(ctx context.Context, entity *billableentity.BillableEntity) error {
	query := `INSERT INTO billable_entities (` + billableEntityColumns + `)
		VALUES (:id, :workspace_id, :display_name, :status, :created_at, :updated_at, :created_by, :updated_by)`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, entity)
	return postgres.WrapDBError(err, "billable_entity.create")
}

func (r *billableEntityRepository) Get(ctx context.Context, id string) (*billableentity.BillableEntity, error) {
	var entity billableentity.BillableEntity
	query := `SELECT ` + billableEntityColumns + ` FROM billable_entities WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &entity, query, id); err != nil {
		return nil, postgres.WrapDBError(err, "billable_entity.get")
	}
	return &entity, nil
}

func (r *billableEntityRepository) GetByWorkspaceID(ctx context.Context, workspaceID string) (*billableentity.BillableEntity, error) {
	var entity billableentity.BillableEntity
	query := `SELECT ` + billableEntityColumns + ` FROM billable_entities WHERE workspace_id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &entity, query, workspaceID); err != nil {
		return nil, postgres.WrapDBError(err, "billable_entity.get_by_workspace")
	}
	return &entity, nil
}

func (r *billableEntityRepository) Update(ctx context.Context, entity *billableentity.BillableEntity) error {
	query := `UPDATE billable_entities SET
		workspace_id = :workspace_id,
		display_name = :display_name,
		status = :status,
		updated_at = :updated_at,
		updated_by = :updated_by
		WHERE id = :id`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, entity)
	return postgres.WrapDBError(err, "billable_entity.update")
}

func (r *billableEntityRepository) ListAfter(ctx context.Context, afterID string, limit int) ([]*billableentity.BillableEntity, error) {
	entities := []*billableentity.BillableEntity{}
	query := `SELECT ` + billableEntityColumns + ` FROM billable_entities
		WHERE id > $1 ORDER BY id LIMIT $2`
	if err := r.db.Querier(ctx).SelectContext(ctx, &entities, query, afterID, limit); err != nil {
		return nil, postgres.WrapDBError(err, "billable_entity.list_after")
	}
	return entities, nil
}
