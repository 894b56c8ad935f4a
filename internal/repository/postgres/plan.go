package postgres

import (
	"context"

	"github.com/reckonhq/reckon/internal/domain/plan"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	"github.com/reckonhq/reckon/internal/types"
)

type planRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewPlanRepository(db postgres.IClient, logger *logger.Logger) plan.Repository {
	return &planRepository{db: db, logger: logger}
}

const planColumns = `id, code, name, description, status, created_at, updated_at, created_by, updated_by`

func (r *planRepository) Create(ctx context.Context, p *plan.Plan) error {
	query := `INSERT INTO plans (` + planColumns + `)
		VALUES (:id, :code, :name, :description, :status, :created_at, :updated_at, :created_by, :updated_by)`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, p)
	return postgres.WrapDBError(err, "plan.create")
}

func (r *planRepository) Get(ctx context.Context, id string) (*plan.Plan, error) {
	var p plan.Plan
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &p, query, id); err != nil {
		return nil, postgres.WrapDBError(err, "plan.get")
	}
	return &p, nil
}

func (r *planRepository) GetByCode(ctx context.Context, code string) (*plan.Plan, error) {
	var p plan.Plan
	query := `SELECT ` + planColumns + ` FROM plans WHERE code = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &p, query, code); err != nil {
		return nil, postgres.WrapDBError(err, "plan.get_by_code")
	}
	return &p, nil
}

func (r *planRepository) List(ctx context.Context, filter *types.QueryFilter) ([]*plan.Plan, error) {
	if filter == nil {
		filter = types.NewDefaultQueryFilter()
	}
	plans := []*plan.Plan{}
	query := `SELECT ` + planColumns + ` FROM plans
		WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	if err := r.db.Querier(ctx).SelectContext(ctx, &plans, query,
		filter.GetStatus(), filter.GetLimit(), filter.GetOffset()); err != nil {
		return nil, postgres.WrapDBError(err, "plan.list")
	}
	return plans, nil
}

type priceRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewPriceRepository(db postgres.IClient, logger *logger.Logger) plan.PriceRepository {
	return &priceRepository{db: db, logger: logger}
}

const priceColumns = `id, plan_id, provider, provider_price_id, currency, unit_amount,
	billing_period, kind, role, active, version, sellable_key, effective_at,
	status, created_at, updated_at, created_by, updated_by`

func (r *priceRepository) Create(ctx context.Context, price *plan.Price) error {
	query := `INSERT INTO plan_prices (` + priceColumns + `)
		VALUES (:id, :plan_id, :provider, :provider_price_id, :currency, :unit_amount,
			:billing_period, :kind, :role, :active, :version, :sellable_key, :effective_at,
			:status, :created_at, :updated_at, :created_by, :updated_by)`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, price)
	return postgres.WrapDBError(err, "price.create")
}

func (r *priceRepository) Get(ctx context.Context, id string) (*plan.Price, error) {
	var price plan.Price
	query := `SELECT ` + priceColumns + ` FROM plan_prices WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &price, query, id); err != nil {
		return nil, postgres.WrapDBError(err, "price.get")
	}
	return &price, nil
}

func (r *priceRepository) Update(ctx context.Context, price *plan.Price) error {
	query := `UPDATE plan_prices SET
		provider_price_id = :provider_price_id,
		currency = :currency,
		unit_amount = :unit_amount,
		billing_period = :billing_period,
		kind = :kind,
		role = :role,
		active = :active,
		version = :version,
		sellable_key = :sellable_key,
		effective_at = :effective_at,
		status = :status,
		updated_at = :updated_at,
		updated_by = :updated_by
		WHERE id = :id`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, price)
	return postgres.WrapDBError(err, "price.update")
}

func (r *priceRepository) GetByProviderPriceID(ctx context.Context, provider types.ProviderType, providerPriceID string) (*plan.Price, error) {
	var price plan.Price
	query := `SELECT ` + priceColumns + ` FROM plan_prices
		WHERE provider = $1 AND provider_price_id = $2`
	if err := r.db.Querier(ctx).GetContext(ctx, &price, query, provider, providerPriceID); err != nil {
		return nil, postgres.WrapDBError(err, "price.get_by_provider_price")
	}
	return &price, nil
}

func (r *priceRepository) GetSellable(ctx context.Context, planID string, provider types.ProviderType) (*plan.Price, error) {
	var price plan.Price
	query := `SELECT ` + priceColumns + ` FROM plan_prices
		WHERE plan_id = $1 AND provider = $2 AND sellable_key IS NOT NULL`
	if err := r.db.Querier(ctx).GetContext(ctx, &price, query, planID, provider); err != nil {
		return nil, postgres.WrapDBError(err, "price.get_sellable")
	}
	return &price, nil
}

func (r *priceRepository) ListByPlan(ctx context.Context, planID string) ([]*plan.Price, error) {
	prices := []*plan.Price{}
	query := `SELECT ` + priceColumns + ` FROM plan_prices
		WHERE plan_id = $1 ORDER BY version DESC`
	if err := r.db.Querier(ctx).SelectContext(ctx, &prices, query, planID); err != nil {
		return nil, postgres.WrapDBError(err, "price.list_by_plan")
	}
	return prices, nil
}
