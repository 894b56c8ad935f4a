package postgres

import (
	"context"

	"github.com/reckonhq/reckon/internal/domain/webhookevent"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/postgres"
	"github.com/reckonhq/reckon/internal/types"
)

type webhookEventRepository struct {
	db     postgres.IClient
	logger *logger.Logger
}

func NewWebhookEventRepository(db postgres.IClient, logger *logger.Logger) webhookevent.Repository {
	return &webhookEventRepository{db: db, logger: logger}
}

const webhookEventColumns = `id, provider, provider_event_id, canonical_type, event_status,
	billable_entity_id, operation_key, payload, error_text, attempt_count,
	received_at, processed_at, last_failed_at,
	status, created_at, updated_at, created_by, updated_by`

func (r *webhookEventRepository) Create(ctx context.Context, event *webhookevent.WebhookEvent) error {
	query := `INSERT INTO webhook_events (` + webhookEventColumns + `)
		VALUES (:id, :provider, :provider_event_id, :canonical_type, :event_status,
			:billable_entity_id, :operation_key, :payload, :error_text, :attempt_count,
			:received_at, :processed_at, :last_failed_at,
			:status, :created_at, :updated_at, :created_by, :updated_by)`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, event)
	return postgres.WrapDBError(err, "webhook_event.create")
}

func (r *webhookEventRepository) Get(ctx context.Context, id string) (*webhookevent.WebhookEvent, error) {
	var event webhookevent.WebhookEvent
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE id = $1`
	if err := r.db.Querier(ctx).GetContext(ctx, &event, query, id); err != nil {
		return nil, postgres.WrapDBError(err, "webhook_event.get")
	}
	return &event, nil
}

func (r *webhookEventRepository) GetByProviderEventID(ctx context.Context, provider types.ProviderType, providerEventID string) (*webhookevent.WebhookEvent, error) {
	var event webhookevent.WebhookEvent
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events
		WHERE provider = $1 AND provider_event_id = $2`
	if err := r.db.Querier(ctx).GetContext(ctx, &event, query, provider, providerEventID); err != nil {
		return nil, postgres.WrapDBError(err, "webhook_event.get_by_provider_event")
	}
	return &event, nil
}

func (r *webhookEventRepository) Update(ctx context.Context, event *webhookevent.WebhookEvent) error {
	query := `UPDATE webhook_events SET
		canonical_type = :canonical_type,
		event_status = :event_status,
		billable_entity_id = :billable_entity_id,
		operation_key = :operation_key,
		error_text = :error_text,
		attempt_count = :attempt_count,
		processed_at = :processed_at,
		last_failed_at = :last_failed_at,
		updated_at = :updated_at,
		updated_by = :updated_by
		WHERE id = :id`
	_, err := r.db.Querier(ctx).NamedExecContext(ctx, query, event)
	return postgres.WrapDBError(err, "webhook_event.update")
}

func (r *webhookEventRepository) ListFailed(ctx context.Context, provider types.ProviderType, limit int) ([]*webhookevent.WebhookEvent, error) {
	events := []*webhookevent.WebhookEvent{}
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events
		WHERE provider = $1 AND event_status = $2
		ORDER BY received_at LIMIT $3`
	if err := r.db.Querier(ctx).SelectContext(ctx, &events, query,
		provider, types.WebhookEventStatusFailed, limit); err != nil {
		return nil, postgres.WrapDBError(err, "webhook_event.list_failed")
	}
	return events, nil
}
