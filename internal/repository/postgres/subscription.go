package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/reckonhq/reckon/internal/domain/subscription"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	"github.com/reckonhq/reckon/internal/types"
)

type subscriptionRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewSubscriptionRepository(db postgres.IClient, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{db: db, logger: logger}
}

const subscriptionColumns = `id, billable_entity_id, provider, provider_subscription_id,
	provider_customer_id, plan_id, plan_price_id, subscription_status, is_current, currency,
	current_period_start, current_period_end, cancel_at, cancelled_at, cancel_at_period_end,
	trial_start, trial_end, operation_key, last_provider_event_id, last_provider_event_at,
	status, created_at, updated_at, created_by, updated_by`

func (r *subscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription) error {
	query := `INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES (:id, :billable_entity_id, :provider, :provider_subscription_id,
			:provider_customer_id, :plan_id, :plan_price_id, :subscription_status, :is_current, :currency,
			:current_period_start, :current_period_end, :cancel_at, :cancelled_at, :cancel_at_period_end,
			:trial_start, :trial_end, :operation_key, :last_provider_event_id, :last_provider_event_at,
			:status, :created_at, :updated_at, :created_by, :updated_by)`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, sub)
	return postgres.WrapDBError(err, "subscription.create")
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	query := `UPDATE subscriptions SET
		provider_customer_id = :provider_customer_id,
		plan_id = :plan_id,
		plan_price_id = :plan_price_id,
		subscription_status = :subscription_status,
		is_current = :is_current,
		currency = :currency,
		current_period_start = :current_period_start,
		current_period_end = :current_period_end,
		cancel_at = :cancel_at,
		cancelled_at = :cancelled_at,
		cancel_at_period_end = :cancel_at_period_end,
		trial_start = :trial_start,
		trial_end = :trial_end,
		operation_key = :operation_key,
		last_provider_event_id = :last_provider_event_id,
		last_provider_event_at = :last_provider_event_at,
		updated_at = :updated_at,
		updated_by = :updated_by
		WHERE id = :id`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, sub)
	return postgres.WrapDBError(err, "subscription.update")
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &sub, query, id); err != nil {
		return nil, postgres.WrapDBError(err, "subscription.get")
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByProviderSubscriptionID(ctx context.Context, provider types.ProviderType, providerSubscriptionID string) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE provider = $1 AND provider_subscription_id = $2`
	if err := r.db.Querier(ctx).GetContext(ctx, &sub, query, provider, providerSubscriptionID); err != nil {
		return nil, postgres.WrapDBError(err, "subscription.get_by_provider_subscription")
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetCurrent(ctx context.Context, billableEntityID string) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE billable_entity_id = $1 AND is_current`
	if err := r.db.Querier(ctx).GetContext(ctx, &sub, query, billableEntityID); err != nil {
		return nil, postgres.WrapDBError(err, "subscription.get_current")
	}
	return &sub, nil
}

func (r *subscriptionRepository) ListCurrentLooking(ctx context.Context, billableEntityID string) ([]*subscription.Subscription, error) {
	subs := []*subscription.Subscription{}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE billable_entity_id = ?
		AND subscription_status IN (?)
		ORDER BY created_at`
	query, args, err := sqlx.In(query, billableEntityID, types.NonTerminalSubscriptionStatuses)
	if err != nil {
		return nil, postgres.WrapDBError(err, "subscription.list_current_looking")
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	if err := r.db.Querier(ctx).SelectContext(ctx, &subs, query, args...); err != nil {
		return nil, postgres.WrapDBError(err, "subscription.list_current_looking")
	}
	return subs, nil
}

func (r *subscriptionRepository) ListByEntity(ctx context.Context, billableEntityID string) ([]*subscription.Subscription, error) {
	subs := []*subscription.Subscription{}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
		WHERE billable_entity_id = $1 ORDER BY created_at DESC`
	if err := r.db.Querier(ctx).SelectContext(ctx, &subs, query, billableEntityID); err != nil {
		return nil, postgres.WrapDBError(err, "subscription.list_by_entity")
	}
	return subs, nil
}

const subscriptionItemColumns = `id, subscription_id, provider, provider_item_id,
	provider_price_id, quantity, unit_amount, currency,
	status, created_at, updated_at, created_by, updated_by`

func (r *subscriptionRepository) ReplaceItems(ctx context.Context, subscriptionID string, items []*subscription.Item) error {
	q := r.db.Querier(ctx)
	if _, err := q.ExecContext(ctx, `DELETE FROM subscription_items WHERE subscription_id = $1`, subscriptionID); err != nil {
		return postgres.WrapDBError(err, "subscription.replace_items.delete")
	}
	query := `INSERT INTO subscription_items (` + subscriptionItemColumns + `)
		VALUES (:id, :subscription_id, :provider, :provider_item_id,
			:provider_price_id, :quantity, :unit_amount, :currency,
			:status, :created_at, :updated_at, :created_by, :updated_by)`
	for _, item := range items {
		if _, err := q.NamedExecContext(ctx, query, item); err != nil {
			return postgres.WrapDBError(err, "subscription.replace_items.insert")
		}
	}
	return nil
}

func (r *subscriptionRepository) ListItems(ctx context.Context, subscriptionID string) ([]*subscription.Item, error) {
	items := []*subscription.Item{}
	query := `SELECT ` + subscriptionItemColumns + ` FROM subscription_items
		WHERE subscription_id = $1 ORDER BY id`
	if err := r.db.Querier(ctx).SelectContext(ctx, &items, query, subscriptionID); err != nil {
		return nil, postgres.WrapDBError(err, "subscription.list_items")
	}
	return items, nil
}
