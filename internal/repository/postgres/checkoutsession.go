package postgres

import (
	"context"
	"time"

	"github.com/reckonhq/reckon/internal/domain/checkoutsession"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	"github.com/reckonhq/reckon/internal/types"
)

type checkoutSessionRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewCheckoutSessionRepository(db postgres.IClient, logger *logger.Logger) checkoutsession.Repository {
	return &checkoutSessionRepository{db: db, logger: logger}
}

const checkoutSessionColumns = `id, billable_entity_id, provider, provider_session_id,
	provider_customer_id, provider_subscription_id, operation_key, plan_price_id,
	session_status, blocking_key, url, expires_at, completed_at, subscription_id,
	status, created_at, updated_at, created_by, updated_by`

func (r *checkoutSessionRepository) Create(ctx context.Context, session *checkoutsession.CheckoutSession) error {
	query := `INSERT INTO checkout_sessions (` + checkoutSessionColumns + `)
		VALUES (:id, :billable_entity_id, :provider, :provider_session_id,
			:provider_customer_id, :provider_subscription_id, :operation_key, :plan_price_id,
			:session_status, :blocking_key, :url, :expires_at, :completed_at, :subscription_id,
			:status, :created_at, :updated_at, :created_by, :updated_by)`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, session)
	return postgres.WrapDBError(err, "checkout_session.create")
}

func (r *checkoutSessionRepository) Update(ctx context.Context, session *checkoutsession.CheckoutSession) error {
	query := `UPDATE checkout_sessions SET
		provider_session_id = :provider_session_id,
		provider_customer_id = :provider_customer_id,
		provider_subscription_id = :provider_subscription_id,
		session_status = :session_status,
		blocking_key = :blocking_key,
		url = :url,
		expires_at = :expires_at,
		completed_at = :completed_at,
		subscription_id = :subscription_id,
		updated_at = :updated_at,
		updated_by = :updated_by
		WHERE id = :id`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, session)
	return postgres.WrapDBError(err, "checkout_session.update")
}

func (r *checkoutSessionRepository) Get(ctx context.Context, id string) (*checkoutsession.CheckoutSession, error) {
	var session checkoutsession.CheckoutSession
	query := `SELECT ` + checkoutSessionColumns + ` FROM checkout_sessions WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &session, query, id); err != nil {
		return nil, postgres.WrapDBError(err, "checkout_session.get")
	}
	return &session, nil
}

func (r *checkoutSessionRepository) GetByProviderSessionID(ctx context.Context, provider types.ProviderType, providerSessionID string) (*checkoutsession.CheckoutSession, error) {
	var session checkoutsession.CheckoutSession
	query := `SELECT ` + checkoutSessionColumns + ` FROM checkout_sessions
		WHERE provider = $1 AND provider_session_id = $2`
	if err := r.db.Querier(ctx).GetContext(ctx, &session, query, provider, providerSessionID); err != nil {
		return nil, postgres.WrapDBError(err, "checkout_session.get_by_provider_session")
	}
	return &session, nil
}

func (r *checkoutSessionRepository) GetByProviderSubscriptionID(ctx context.Context, provider types.ProviderType, providerSubscriptionID string) (*checkoutsession.CheckoutSession, error) {
	var session checkoutsession.CheckoutSession
	query := `SELECT ` + checkoutSessionColumns + ` FROM checkout_sessions
		WHERE provider = $1 AND provider_subscription_id = $2
		ORDER BY created_at DESC LIMIT 1`
	if err := r.db.Querier(ctx).GetContext(ctx, &session, query, provider, providerSubscriptionID); err != nil {
		return nil, postgres.WrapDBError(err, "checkout_session.get_by_provider_subscription")
	}
	return &session, nil
}

func (r *checkoutSessionRepository) GetByOperationKey(ctx context.Context, operationKey string) (*checkoutsession.CheckoutSession, error) {
	var session checkoutsession.CheckoutSession
	query := `SELECT ` + checkoutSessionColumns + ` FROM checkout_sessions WHERE operation_key = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &session, query, operationKey); err != nil {
		return nil, postgres.WrapDBError(err, "checkout_session.get_by_operation_key")
	}
	return &session, nil
}

func (r *checkoutSessionRepository) GetBlocking(ctx context.Context, billableEntityID string) (*checkoutsession.CheckoutSession, error) {
	var session checkoutsession.CheckoutSession
	query := `SELECT ` + checkoutSessionColumns + ` FROM checkout_sessions
		WHERE billable_entity_id = $1 AND blocking_key IS NOT NULL`
	if err := r.db.Querier(ctx).GetContext(ctx, &session, query, billableEntityID); err != nil {
		return nil, postgres.WrapDBError(err, "checkout_session.get_blocking")
	}
	return &session, nil
}

func (r *checkoutSessionRepository) ListOpenExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*checkoutsession.CheckoutSession, error) {
	sessions := []*checkoutsession.CheckoutSession{}
	query := `SELECT ` + checkoutSessionColumns + ` FROM checkout_sessions
		WHERE session_status = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY expires_at LIMIT $3`
	if err := r.db.Querier(ctx).SelectContext(ctx, &sessions, query,
		types.CheckoutSessionStatusOpen, cutoff, limit); err != nil {
		return nil, postgres.WrapDBError(err, "checkout_session.list_open_expired")
	}
	return sessions, nil
}

func (r *checkoutSessionRepository) ListPendingReconcile(ctx context.Context, limit int) ([]*checkoutsession.CheckoutSession, error) {
	sessions := []*checkoutsession.CheckoutSession{}
	query := `SELECT ` + checkoutSessionColumns + ` FROM checkout_sessions
		WHERE session_status = $1 ORDER BY completed_at LIMIT $2`
	if err := r.db.Querier(ctx).SelectContext(ctx, &sessions, query,
		types.CheckoutSessionStatusCompletedPendingSubscription, limit); err != nil {
		return nil, postgres.WrapDBError(err, "checkout_session.list_pending_reconcile")
	}
	return sessions, nil
}
