package postgres

import (
	"context"

	"github.com/reckonhq/reckon/internal/domain/entitlement"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
)

type entitlementRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewEntitlementRepository(db postgres.IClient, logger *logger.Logger) entitlement.Repository {
	return &entitlementRepository{db: db, logger: logger}
}

const definitionColumns = `id, code, name, entitlement_type, aggregation_mode, enforcement_mode,
	window_interval, window_anchor, resource_kind,
	status, created_at, updated_at, created_by, updated_by`

func (r *entitlementRepository) CreateDefinition(ctx context.Context, def *entitlement.Definition) error {
	query := `INSERT INTO entitlement_definitions (` + definitionColumns + `)
		VALUES (:id, :code, :name, :entitlement_type, :aggregation_mode, :enforcement_mode,
			:window_interval, :window_anchor, :resource_kind,
			:status, :created_at, :updated_at, :created_by, :updated_by)`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, def)
	return postgres.WrapDBError(err, "entitlement_definition.create")
}

func (r *entitlementRepository) GetDefinition(ctx context.Context, id string) (*entitlement.Definition, error) {
	var def entitlement.Definition
	query := `SELECT ` + definitionColumns + ` FROM entitlement_definitions WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &def, query, id); err != nil {
		return nil, postgres.WrapDBError(err, "entitlement_definition.get")
	}
	return &def, nil
}

func (r *entitlementRepository) GetDefinitionByCode(ctx context.Context, code string) (*entitlement.Definition, error) {
	var def entitlement.Definition
	query := `SELECT ` + definitionColumns + ` FROM entitlement_definitions WHERE code = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &def, query, code); err != nil {
		return nil, postgres.WrapDBError(err, "entitlement_definition.get_by_code")
	}
	return &def, nil
}

func (r *entitlementRepository) ListDefinitions(ctx context.Context) ([]*entitlement.Definition, error) {
	defs := []*entitlement.Definition{}
	query := `SELECT ` + definitionColumns + ` FROM entitlement_definitions ORDER BY code`
	if err := r.db.Querier(ctx).SelectContext(ctx, &defs, query); err != nil {
		return nil, postgres.WrapDBError(err, "entitlement_definition.list")
	}
	return defs, nil
}

const planEntitlementColumns = `id, plan_id, definition_id, amount,
	status, created_at, updated_at, created_by, updated_by`

func (r *entitlementRepository) CreatePlanEntitlement(ctx context.Context, pe *entitlement.PlanEntitlement) error {
	query := `INSERT INTO plan_entitlements (` + planEntitlementColumns + `)
		VALUES (:id, :plan_id, :definition_id, :amount,
			:status, :created_at, :updated_at, :created_by, :updated_by)`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, pe)
	return postgres.WrapDBError(err, "plan_entitlement.create")
}

func (r *entitlementRepository) ListPlanEntitlements(ctx context.Context, planID string) ([]*entitlement.PlanEntitlement, error) {
	pes := []*entitlement.PlanEntitlement{}
	query := `SELECT ` + planEntitlementColumns + ` FROM plan_entitlements WHERE plan_id = $1`
	if err := r.db.Querier(ctx).SelectContext(ctx, &pes, query, planID); err != nil {
		return nil, postgres.WrapDBError(err, "plan_entitlement.list")
	}
	return pes, nil
}
