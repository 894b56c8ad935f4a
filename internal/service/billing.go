package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/reckonhq/reckon/internal/cache"
	"github.com/reckonhq/reckon/internal/domain/checkoutsession"
	"github.com/reckonhq/reckon/internal/domain/idempotency"
	"github.com/reckonhq/reckon/internal/domain/subscription"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/types"
)

const paymentMethodCacheTTL = 5 * time.Minute

// CheckoutResponse is the client-facing result of a checkout request
type CheckoutResponse struct {
	SessionID    string `json:"session_id"`
	URL          string `json:"url"`
	OperationKey string `json:"operation_key"`

	// Existing is true when a blocking session already existed and its URL
	// is returned instead of creating a new provider session.
	Existing bool `json:"existing"`
}

// PortalResponse is the client-facing result of a portal request
type PortalResponse struct {
	URL string `json:"url"`
}

// PaymentLinkResponse is the client-facing result of a payment link request
type PaymentLinkResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// SubscriptionView bundles a subscription with its line items
type SubscriptionView struct {
	Subscription *subscription.Subscription `json:"subscription"`
	Items        []*subscription.Item       `json:"items"`
}

// CheckoutRequest is one idempotent checkout attempt
type CheckoutRequest struct {
	BillableEntityID string
	PlanID           string
	ClientKey        string
	SuccessURL       string
	CancelURL        string
	Quantity         int64
}

// PortalRequest is one idempotent billing portal attempt
type PortalRequest struct {
	BillableEntityID string
	ClientKey        string
	ReturnURL        string
}

// PaymentLinkRequest is one idempotent payment link attempt
type PaymentLinkRequest struct {
	BillableEntityID string
	PlanID           string
	ClientKey        string
	Quantity         int64
}

// BillingService orchestrates provider-facing billing actions. Every
// provider call is guarded by the idempotency ledger and correlated through
// an operation key so webhooks and recovery can find their way back.
type BillingService interface {
	CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error)
	CreatePortalSession(ctx context.Context, req *PortalRequest) (*PortalResponse, error)
	CreatePaymentLink(ctx context.Context, req *PaymentLinkRequest) (*PaymentLinkResponse, error)

	GetCurrentSubscription(ctx context.Context, billableEntityID string) (*SubscriptionView, error)
	ListPaymentMethods(ctx context.Context, billableEntityID string) ([]*integration.PaymentMethod, error)

	// ExpireStaleSessions sweeps open sessions past their provider expiry
	ExpireStaleSessions(ctx context.Context, limit int) (int, error)

	// ReconcilePendingSessions links completed sessions to their projected
	// subscriptions and verifies recovery-pending sessions at the provider.
	ReconcilePendingSessions(ctx context.Context, limit int) (int, error)
}

type billingService struct {
	ServiceParams
	idempotency IdempotencyService
}

func NewBillingService(params ServiceParams, idempotencySvc IdempotencyService) BillingService {
	return &billingService{ServiceParams: params, idempotency: idempotencySvc}
}

func (s *billingService) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	entity, err := s.BillableEntityRepo.Get(ctx, req.BillableEntityID)
	if err != nil {
		return nil, err
	}

	provider := types.ProviderType(s.Config.Billing.ActiveProvider)
	client, err := s.Providers.Client(provider)
	if err != nil {
		return nil, err
	}

	// an entity with a live subscription manages it through the portal
	if current, err := s.SubscriptionRepo.GetCurrent(ctx, entity.ID); err == nil && current != nil {
		return nil, ierr.NewError("entity already has a current subscription").
			WithHint("Use the billing portal to change an existing subscription").
			WithReportableDetails(map[string]any{
				"billable_entity_id": entity.ID,
				"subscription_id":    current.ID,
			}).
			Mark(ierr.ErrInvalidOperation)
	} else if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}

	// a blocking session short-circuits to its existing URL
	if blocking, err := s.CheckoutSessionRepo.GetBlocking(ctx, entity.ID); err == nil && blocking != nil {
		if blocking.SessionStatus == types.CheckoutSessionStatusOpen {
			return &CheckoutResponse{
				SessionID:    blocking.ID,
				URL:          blocking.URL,
				OperationKey: blocking.OperationKey,
				Existing:     true,
			}, nil
		}
		return nil, ierr.NewError("a checkout is already being finalized").
			WithHint("A previous checkout is completing; retry shortly").
			WithReportableDetails(map[string]any{
				"session_id":     blocking.ID,
				"session_status": blocking.SessionStatus,
			}).
			Mark(ierr.ErrAlreadyExists)
	} else if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	price, err := s.PriceRepo.GetSellable(ctx, req.PlanID, provider)
	if err != nil {
		return nil, err
	}

	var providerCustomerID, customerEmail string
	if customer, err := s.BillingCustomerRepo.GetByEntityAndProvider(ctx, entity.ID, provider); err == nil && customer != nil {
		providerCustomerID = customer.ProviderCustomerID
		customerEmail = customer.Email
	} else if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}

	acquire, err := s.idempotency.AcquireOrReplay(ctx, &AcquireParams{
		BillableEntityID: entity.ID,
		Action:           types.IdempotencyActionCheckout,
		ClientKey:        req.ClientKey,
		Params: map[string]interface{}{
			"plan_id":           req.PlanID,
			"provider_price_id": price.ProviderPriceID,
			"quantity":          quantity,
			"success_url":       req.SuccessURL,
			"cancel_url":        req.CancelURL,
		},
		Owner: workerOwner(),
	})
	if err != nil {
		return nil, err
	}
	if acquire.Replayed {
		return replayResponse[CheckoutResponse](acquire.Request)
	}

	ledger := acquire.Request
	sessionParams := &integration.CheckoutSessionParams{
		ProviderCustomerID: providerCustomerID,
		CustomerEmail:      customerEmail,
		ProviderPriceID:    price.ProviderPriceID,
		Quantity:           quantity,
		OperationKey:       ledger.OperationKey,
		IdempotencyKey:     ledger.ProviderIdempotencyKey,
		SuccessURL:         req.SuccessURL,
		CancelURL:          req.CancelURL,
		Metadata: map[string]string{
			"billable_entity_id": entity.ID,
		},
	}

	if acquire.Recovered {
		// a previous attempt may have reached the provider before crashing;
		// look for the session by operation key before re-sending
		if resp, err := s.recoverCheckout(ctx, client, ledger, entity.ID, price.ID); err != nil {
			return nil, err
		} else if resp != nil {
			return resp, nil
		}
	}

	providerSession, err := client.CreateCheckoutSession(ctx, sessionParams)
	if err != nil {
		if failErr := s.idempotency.Fail(ctx, ledger, err); failErr != nil {
			s.Logger.Errorw("failed to record checkout failure",
				"error", failErr,
				"request_id", ledger.ID)
		}
		return nil, err
	}

	session, err := s.persistCheckoutSession(ctx, entity.ID, provider, providerSession, ledger.OperationKey, price.ID)
	if err != nil {
		return nil, err
	}

	response := &CheckoutResponse{
		SessionID:    session.ID,
		URL:          session.URL,
		OperationKey: ledger.OperationKey,
	}
	raw, err := json.Marshal(response)
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrSystem)
	}
	if err := s.idempotency.Complete(ctx, ledger, raw); err != nil {
		return nil, err
	}

	s.Logger.Infow("created checkout session",
		"session_id", session.ID,
		"provider_session_id", session.ProviderSessionID,
		"billable_entity_id", entity.ID,
		"operation_key", ledger.OperationKey)
	return response, nil
}

// recoverCheckout verifies provider-side effects of a reclaimed checkout
// request. If the provider already holds a session for the operation key it
// is adopted; otherwise nil is returned and the caller re-sends the frozen
// params with the same provider idempotency key.
func (s *billingService) recoverCheckout(
	ctx context.Context,
	client integration.Client,
	ledger *idempotency.Request,
	billableEntityID string,
	planPriceID string,
) (*CheckoutResponse, error) {
	sessions, err := client.ListCheckoutSessionsByOperationKey(ctx, ledger.OperationKey)
	if err != nil {
		// the provider's answer is unknown; a blind re-send here could mint a
		// duplicate session. Park the checkout for the reconciliation sweep
		// to settle against the provider.
		if parkErr := s.parkUnverifiedCheckout(ctx, client.ProviderType(), ledger, billableEntityID, planPriceID); parkErr != nil {
			s.Logger.Errorw("failed to park unverified checkout",
				"error", parkErr,
				"operation_key", ledger.OperationKey)
		}
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	providerSession := sessions[0]
	s.Logger.Warnw("recovered provider checkout session after lease reclaim",
		"operation_key", ledger.OperationKey,
		"provider_session_id", providerSession.ID)

	session, err := s.CheckoutSessionRepo.GetByOperationKey(ctx, ledger.OperationKey)
	if err != nil {
		if !ierr.IsNotFound(err) {
			return nil, err
		}
		session, err = s.persistCheckoutSession(ctx, billableEntityID, client.ProviderType(), providerSession, ledger.OperationKey, planPriceID)
		if err != nil {
			return nil, err
		}
	}

	response := &CheckoutResponse{
		SessionID:    session.ID,
		URL:          session.URL,
		OperationKey: ledger.OperationKey,
	}
	raw, err := json.Marshal(response)
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrSystem)
	}
	if err := s.idempotency.Complete(ctx, ledger, raw); err != nil {
		return nil, err
	}
	return response, nil
}

// parkUnverifiedCheckout moves a reclaimed checkout whose provider state
// could not be confirmed into recovery_verification_pending. The session
// keeps blocking new checkouts until the checkout reconciliation scope
// settles it against the provider.
func (s *billingService) parkUnverifiedCheckout(
	ctx context.Context,
	provider types.ProviderType,
	ledger *idempotency.Request,
	billableEntityID string,
	planPriceID string,
) error {
	session, err := s.CheckoutSessionRepo.GetByOperationKey(ctx, ledger.OperationKey)
	if err == nil {
		if session.SessionStatus != types.CheckoutSessionStatusOpen {
			return nil
		}
		if err := session.Transition(types.CheckoutSessionStatusRecoveryVerificationPending); err != nil {
			return err
		}
		return s.CheckoutSessionRepo.Update(ctx, session)
	}
	if !ierr.IsNotFound(err) {
		return err
	}

	// no local session survived the crash; record a placeholder so the
	// operation key stays visible to reconciliation
	session = &checkoutsession.CheckoutSession{
		ID:               types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CHECKOUT_SESSION),
		BillableEntityID: billableEntityID,
		Provider:         provider,
		OperationKey:     ledger.OperationKey,
		PlanPriceID:      planPriceID,
		SessionStatus:    types.CheckoutSessionStatusRecoveryVerificationPending,
		BaseModel:        types.GetDefaultBaseModel(ctx),
	}
	session.RefreshBlockingKey()
	if err := session.Validate(); err != nil {
		return err
	}
	return s.CheckoutSessionRepo.Create(ctx, session)
}

func (s *billingService) persistCheckoutSession(
	ctx context.Context,
	billableEntityID string,
	provider types.ProviderType,
	providerSession *integration.CheckoutSession,
	operationKey string,
	planPriceID string,
) (*checkoutsession.CheckoutSession, error) {
	session := &checkoutsession.CheckoutSession{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CHECKOUT_SESSION),
		BillableEntityID:   billableEntityID,
		Provider:           provider,
		ProviderSessionID:  providerSession.ID,
		ProviderCustomerID: providerSession.ProviderCustomerID,
		OperationKey:       operationKey,
		PlanPriceID:        planPriceID,
		SessionStatus:      types.CheckoutSessionStatusOpen,
		URL:                providerSession.URL,
		BaseModel:          types.GetDefaultBaseModel(ctx),
	}
	if !providerSession.ExpiresAt.IsZero() {
		expires := providerSession.ExpiresAt
		session.ExpiresAt = &expires
	}
	session.RefreshBlockingKey()
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if err := s.CheckoutSessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *billingService) CreatePortalSession(ctx context.Context, req *PortalRequest) (*PortalResponse, error) {
	provider := types.ProviderType(s.Config.Billing.ActiveProvider)
	client, err := s.Providers.Client(provider)
	if err != nil {
		return nil, err
	}

	customer, err := s.BillingCustomerRepo.GetByEntityAndProvider(ctx, req.BillableEntityID, provider)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, ierr.NewError("no billing customer for entity").
				WithHint("A billing portal requires an existing provider customer").
				WithReportableDetails(map[string]any{"billable_entity_id": req.BillableEntityID}).
				Mark(ierr.ErrInvalidOperation)
		}
		return nil, err
	}

	acquire, err := s.idempotency.AcquireOrReplay(ctx, &AcquireParams{
		BillableEntityID: req.BillableEntityID,
		Action:           types.IdempotencyActionPortal,
		ClientKey:        req.ClientKey,
		Params: map[string]interface{}{
			"provider_customer_id": customer.ProviderCustomerID,
			"return_url":           req.ReturnURL,
		},
		Owner: workerOwner(),
	})
	if err != nil {
		return nil, err
	}
	if acquire.Replayed {
		return replayResponse[PortalResponse](acquire.Request)
	}

	ledger := acquire.Request
	portal, err := client.CreateBillingPortalSession(ctx, &integration.PortalSessionParams{
		ProviderCustomerID: customer.ProviderCustomerID,
		ReturnURL:          req.ReturnURL,
		IdempotencyKey:     ledger.ProviderIdempotencyKey,
	})
	if err != nil {
		if failErr := s.idempotency.Fail(ctx, ledger, err); failErr != nil {
			s.Logger.Errorw("failed to record portal failure",
				"error", failErr,
				"request_id", ledger.ID)
		}
		return nil, err
	}

	response := &PortalResponse{URL: portal.URL}
	raw, err := json.Marshal(response)
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrSystem)
	}
	if err := s.idempotency.Complete(ctx, ledger, raw); err != nil {
		return nil, err
	}
	return response, nil
}

func (s *billingService) CreatePaymentLink(ctx context.Context, req *PaymentLinkRequest) (*PaymentLinkResponse, error) {
	provider := types.ProviderType(s.Config.Billing.ActiveProvider)
	client, err := s.Providers.Client(provider)
	if err != nil {
		return nil, err
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	price, err := s.PriceRepo.GetSellable(ctx, req.PlanID, provider)
	if err != nil {
		return nil, err
	}

	acquire, err := s.idempotency.AcquireOrReplay(ctx, &AcquireParams{
		BillableEntityID: req.BillableEntityID,
		Action:           types.IdempotencyActionPaymentLink,
		ClientKey:        req.ClientKey,
		Params: map[string]interface{}{
			"plan_id":           req.PlanID,
			"provider_price_id": price.ProviderPriceID,
			"quantity":          quantity,
		},
		Owner: workerOwner(),
	})
	if err != nil {
		return nil, err
	}
	if acquire.Replayed {
		return replayResponse[PaymentLinkResponse](acquire.Request)
	}

	ledger := acquire.Request
	link, err := client.CreatePaymentLink(ctx, &integration.PaymentLinkParams{
		ProviderPriceID: price.ProviderPriceID,
		Quantity:        quantity,
		OperationKey:    ledger.OperationKey,
		IdempotencyKey:  ledger.ProviderIdempotencyKey,
		Metadata: map[string]string{
			"billable_entity_id": req.BillableEntityID,
		},
	})
	if err != nil {
		if failErr := s.idempotency.Fail(ctx, ledger, err); failErr != nil {
			s.Logger.Errorw("failed to record payment link failure",
				"error", failErr,
				"request_id", ledger.ID)
		}
		return nil, err
	}

	response := &PaymentLinkResponse{ID: link.ID, URL: link.URL}
	raw, err := json.Marshal(response)
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrSystem)
	}
	if err := s.idempotency.Complete(ctx, ledger, raw); err != nil {
		return nil, err
	}
	return response, nil
}

func (s *billingService) GetCurrentSubscription(ctx context.Context, billableEntityID string) (*SubscriptionView, error) {
	sub, err := s.SubscriptionRepo.GetCurrent(ctx, billableEntityID)
	if err != nil {
		return nil, err
	}
	items, err := s.SubscriptionRepo.ListItems(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	return &SubscriptionView{Subscription: sub, Items: items}, nil
}

func (s *billingService) ListPaymentMethods(ctx context.Context, billableEntityID string) ([]*integration.PaymentMethod, error) {
	provider := types.ProviderType(s.Config.Billing.ActiveProvider)

	cacheKey := cache.PrefixPaymentMethods + billableEntityID
	if cached, found := s.Cache.Get(ctx, cacheKey); found {
		if methods, ok := cached.([]*integration.PaymentMethod); ok {
			return methods, nil
		}
	}

	customer, err := s.BillingCustomerRepo.GetByEntityAndProvider(ctx, billableEntityID, provider)
	if err != nil {
		if ierr.IsNotFound(err) {
			return []*integration.PaymentMethod{}, nil
		}
		return nil, err
	}

	client, err := s.Providers.Client(provider)
	if err != nil {
		return nil, err
	}
	methods, err := client.ListCustomerPaymentMethods(ctx, customer.ProviderCustomerID)
	if err != nil {
		return nil, err
	}

	s.Cache.Set(ctx, cacheKey, methods, paymentMethodCacheTTL)
	return methods, nil
}

func (s *billingService) ExpireStaleSessions(ctx context.Context, limit int) (int, error) {
	now := time.Now().UTC()
	sessions, err := s.CheckoutSessionRepo.ListOpenExpiredBefore(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, session := range sessions {
		client, err := s.Providers.Client(session.Provider)
		if err != nil {
			return expired, err
		}
		if err := client.ExpireCheckoutSession(ctx, session.ProviderSessionID); err != nil {
			// the provider may have expired it already; the sweep continues
			s.Logger.Warnw("provider expiry call failed during sweep",
				"error", err,
				"session_id", session.ID)
		}
		if err := session.Transition(types.CheckoutSessionStatusExpired); err != nil {
			return expired, err
		}
		session.UpdatedAt = now
		if err := s.CheckoutSessionRepo.Update(ctx, session); err != nil {
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		s.Logger.Infow("expired stale checkout sessions", "count", expired)
	}
	return expired, nil
}

func (s *billingService) ReconcilePendingSessions(ctx context.Context, limit int) (int, error) {
	sessions, err := s.CheckoutSessionRepo.ListPendingReconcile(ctx, limit)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	now := time.Now().UTC()
	for _, session := range sessions {
		if session.ProviderSubscriptionID == "" {
			continue
		}
		sub, err := s.SubscriptionRepo.GetByProviderSubscriptionID(ctx, session.Provider, session.ProviderSubscriptionID)
		if err != nil {
			if ierr.IsNotFound(err) {
				continue
			}
			return reconciled, err
		}
		session.SubscriptionID = sub.ID
		if err := session.Transition(types.CheckoutSessionStatusCompletedReconciled); err != nil {
			return reconciled, err
		}
		if session.CompletedAt == nil {
			session.CompletedAt = &now
		}
		session.UpdatedAt = now
		if err := s.CheckoutSessionRepo.Update(ctx, session); err != nil {
			return reconciled, err
		}
		reconciled++
	}
	return reconciled, nil
}


// replayResponse decodes a stored terminal ledger response, or surfaces the
// original failure for rows that finished failed.
func replayResponse[T any](row *idempotency.Request) (*T, error) {
	if row.RequestStatus != types.IdempotencyStatusSucceeded {
		return nil, ierr.NewError("original request did not succeed").
			WithHint("The original request failed; retry with a new idempotency key").
			WithReportableDetails(map[string]any{
				"request_id": row.ID,
				"status":     row.RequestStatus,
				"error":      row.ErrorText,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	var out T
	if err := json.Unmarshal(row.Response, &out); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Stored response could not be decoded").
			Mark(ierr.ErrSystem)
	}
	return &out, nil
}
