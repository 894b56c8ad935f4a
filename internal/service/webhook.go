package service

import (
	"context"
	"time"

	"github.com/reckonhq/reckon/internal/domain/webhookevent"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/types"
)

// WebhookService ingests raw provider deliveries. Every delivery is either
// rejected before persistence (bad signature, no event id) or ends as a
// durable row: processed on success, failed with whatever correlation could
// be derived on any other outcome. A failed row is never discarded — the
// reconciliation runner and operators repair from it, and the provider's
// retry of the same event id replays against the stored row instead of
// re-applying effects.
type WebhookService interface {
	// Ingest handles one raw delivery. The returned event reflects durable
	// state; a non-nil error alongside a persisted row means processing
	// failed and the caller may return a retry-worthy response.
	Ingest(ctx context.Context, provider types.ProviderType, payload []byte, signature string) (*webhookevent.WebhookEvent, error)

	// Retry reprocesses a previously failed event from its stored payload
	Retry(ctx context.Context, eventID string) (*webhookevent.WebhookEvent, error)

	// ListFailed exposes durably failed events for repair tooling
	ListFailed(ctx context.Context, provider types.ProviderType, limit int) ([]*webhookevent.WebhookEvent, error)
}

type webhookService struct {
	ServiceParams
	projections ProjectionService
}

func NewWebhookService(params ServiceParams, projectionSvc ProjectionService) WebhookService {
	return &webhookService{ServiceParams: params, projections: projectionSvc}
}

func (s *webhookService) Ingest(ctx context.Context, provider types.ProviderType, payload []byte, signature string) (*webhookevent.WebhookEvent, error) {
	client, err := s.Providers.Client(provider)
	if err != nil {
		return nil, err
	}
	translator, err := s.Providers.Translator(provider)
	if err != nil {
		return nil, err
	}

	// fail closed before touching the database
	if err := client.VerifyWebhookEvent(ctx, payload, signature); err != nil {
		return nil, err
	}

	canonical, err := translator.ToCanonicalEvent(payload)
	if err != nil {
		return nil, err
	}
	// without an id there is nothing to dedupe against
	if canonical.ID == "" {
		return nil, ierr.NewError("event has no provider event id").
			WithHint("Events without an id cannot be deduplicated and are rejected").
			WithReportableDetails(map[string]any{
				"provider":   provider,
				"event_type": canonical.Type,
			}).
			Mark(ierr.ErrValidation)
	}

	now := time.Now().UTC()
	event := &webhookevent.WebhookEvent{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_WEBHOOK_EVENT),
		Provider:        provider,
		ProviderEventID: canonical.ID,
		CanonicalType:   canonical.Type,
		EventStatus:     types.WebhookEventStatusReceived,
		Payload:         canonical.Raw,
		ReceivedAt:      now,
		BaseModel:       types.GetDefaultBaseModel(ctx),
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if err := s.WebhookEventRepo.Create(ctx, event); err != nil {
		if !ierr.IsAlreadyExists(err) {
			return nil, err
		}
		// provider retry of a delivery already on disk
		existing, err := s.WebhookEventRepo.GetByProviderEventID(ctx, provider, canonical.ID)
		if err != nil {
			return nil, err
		}
		if existing.EventStatus.IsTerminalSuccess() {
			s.Logger.Infow("deduplicated webhook replay",
				"provider", provider,
				"provider_event_id", canonical.ID)
			return existing, nil
		}
		event = existing
	}

	return s.process(ctx, event, canonical)
}

func (s *webhookService) Retry(ctx context.Context, eventID string) (*webhookevent.WebhookEvent, error) {
	event, err := s.WebhookEventRepo.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.EventStatus.IsTerminalSuccess() {
		return event, nil
	}
	translator, err := s.Providers.Translator(event.Provider)
	if err != nil {
		return nil, err
	}
	canonical, err := translator.ToCanonicalEvent(event.Payload)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, event, canonical)
}

func (s *webhookService) ListFailed(ctx context.Context, provider types.ProviderType, limit int) ([]*webhookevent.WebhookEvent, error) {
	return s.WebhookEventRepo.ListFailed(ctx, provider, limit)
}

// process correlates and applies one canonical event. Correlation results
// are written back to the row even when application fails.
func (s *webhookService) process(ctx context.Context, event *webhookevent.WebhookEvent, canonical *integration.CanonicalEvent) (*webhookevent.WebhookEvent, error) {
	now := time.Now().UTC()
	event.EventStatus = types.WebhookEventStatusProcessing
	event.UpdatedAt = now
	if err := s.WebhookEventRepo.Update(ctx, event); err != nil {
		return nil, err
	}

	if !canonical.Type.IsProcessable() {
		// unrecognized event types are recorded and acknowledged, not failed
		event.MarkProcessed(time.Now().UTC())
		if err := s.WebhookEventRepo.Update(ctx, event); err != nil {
			return nil, err
		}
		s.Logger.Infow("ignored unprocessable event type",
			"provider", event.Provider,
			"provider_event_id", event.ProviderEventID,
			"event_type", canonical.Type)
		return event, nil
	}

	billableEntityID, operationKey, corrErr := s.correlate(ctx, event.Provider, canonical)
	if operationKey != "" {
		event.OperationKey = &operationKey
	}
	if billableEntityID != "" {
		event.BillableEntityID = &billableEntityID
	}

	applyErr := corrErr
	if applyErr == nil {
		applyErr = s.DB.WithTx(ctx, func(txCtx context.Context) error {
			return s.apply(txCtx, canonical, event.Provider, billableEntityID)
		})
	}

	if applyErr != nil {
		event.MarkFailed(time.Now().UTC(), applyErr.Error())
		if err := s.WebhookEventRepo.Update(ctx, event); err != nil {
			return nil, err
		}
		s.Logger.Errorw("webhook event processing failed",
			"error", applyErr,
			"provider", event.Provider,
			"provider_event_id", event.ProviderEventID,
			"event_type", canonical.Type,
			"billable_entity_id", billableEntityID,
			"operation_key", operationKey)
		return event, applyErr
	}

	event.MarkProcessed(time.Now().UTC())
	if err := s.WebhookEventRepo.Update(ctx, event); err != nil {
		return nil, err
	}
	s.Logger.Infow("processed webhook event",
		"provider", event.Provider,
		"provider_event_id", event.ProviderEventID,
		"event_type", canonical.Type,
		"billable_entity_id", billableEntityID)
	return event, nil
}

// correlate resolves the billable entity the event belongs to, in priority
// order: explicit metadata, checkout session lookups, customer ownership,
// and for invoices the subscription chain. Partial results (an operation
// key without an entity) are still returned so they can be persisted.
func (s *webhookService) correlate(ctx context.Context, provider types.ProviderType, canonical *integration.CanonicalEvent) (string, string, error) {
	obj := canonical.Data.Object
	operationKey := ""
	if metadata := integration.GetObject(obj, "metadata"); metadata != nil {
		if explicit := integration.GetString(metadata, "billable_entity_id"); explicit != "" {
			return explicit, integration.GetString(metadata, "operation_key"), nil
		}
		operationKey = integration.GetString(metadata, "operation_key")
	}

	if operationKey != "" {
		session, err := s.CheckoutSessionRepo.GetByOperationKey(ctx, operationKey)
		if err == nil {
			return session.BillableEntityID, operationKey, nil
		}
		if !ierr.IsNotFound(err) {
			return "", operationKey, err
		}
	}

	// checkout events carry their own session id
	if sessionID := integration.GetString(obj, "id"); sessionID != "" &&
		(canonical.Type == types.CanonicalEventCheckoutSessionCompleted ||
			canonical.Type == types.CanonicalEventCheckoutSessionExpired) {
		session, err := s.CheckoutSessionRepo.GetByProviderSessionID(ctx, provider, sessionID)
		if err == nil {
			return session.BillableEntityID, operationKey, nil
		}
		if !ierr.IsNotFound(err) {
			return "", operationKey, err
		}
	}

	if providerSubID := correlationSubscriptionID(canonical.Type, obj); providerSubID != "" {
		if session, err := s.CheckoutSessionRepo.GetByProviderSubscriptionID(ctx, provider, providerSubID); err == nil {
			return session.BillableEntityID, operationKey, nil
		} else if !ierr.IsNotFound(err) {
			return "", operationKey, err
		}
		if sub, err := s.SubscriptionRepo.GetByProviderSubscriptionID(ctx, provider, providerSubID); err == nil {
			return sub.BillableEntityID, operationKey, nil
		} else if !ierr.IsNotFound(err) {
			return "", operationKey, err
		}
	}

	if providerCustomerID := integration.GetString(obj, "customer"); providerCustomerID != "" {
		customer, err := s.BillingCustomerRepo.GetByProviderCustomerID(ctx, provider, providerCustomerID)
		if err == nil {
			return customer.BillableEntityID, operationKey, nil
		}
		if !ierr.IsNotFound(err) {
			return "", operationKey, err
		}
	}

	return "", operationKey, ierr.NewError("event could not be correlated to a billable entity").
		WithHint("The event is persisted as failed for later repair").
		WithReportableDetails(map[string]any{
			"provider":      provider,
			"event_id":      canonical.ID,
			"event_type":    canonical.Type,
			"operation_key": operationKey,
		}).
		Mark(ierr.ErrCorrelation)
}

// correlationSubscriptionID extracts the provider subscription id relevant
// to the event type: the object itself for subscription events, the linked
// subscription for invoices and checkouts.
func correlationSubscriptionID(t types.CanonicalEventType, obj map[string]interface{}) string {
	switch t {
	case types.CanonicalEventSubscriptionCreated,
		types.CanonicalEventSubscriptionUpdated,
		types.CanonicalEventSubscriptionDeleted:
		return integration.GetString(obj, "id")
	default:
		return integration.GetString(obj, "subscription")
	}
}

func (s *webhookService) apply(ctx context.Context, canonical *integration.CanonicalEvent, provider types.ProviderType, billableEntityID string) error {
	switch canonical.Type {
	case types.CanonicalEventCheckoutSessionCompleted:
		return s.projections.ApplyCheckoutCompleted(ctx, canonical, provider)
	case types.CanonicalEventCheckoutSessionExpired:
		return s.projections.ApplyCheckoutExpired(ctx, canonical, provider)
	case types.CanonicalEventSubscriptionCreated,
		types.CanonicalEventSubscriptionUpdated,
		types.CanonicalEventSubscriptionDeleted:
		_, err := s.projections.ApplySubscriptionEvent(ctx, canonical, provider, billableEntityID)
		return err
	case types.CanonicalEventInvoicePaid,
		types.CanonicalEventInvoicePaymentFailed:
		_, err := s.projections.ApplyInvoiceEvent(ctx, canonical, provider, billableEntityID)
		return err
	default:
		return ierr.NewError("no handler for event type").
			WithReportableDetails(map[string]any{"event_type": canonical.Type}).
			Mark(ierr.ErrInvalidOperation)
	}
}
