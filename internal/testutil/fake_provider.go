package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/types"
)

var _ integration.Client = (*FakeProviderClient)(nil)

// FakeProviderClient is a scriptable payment provider for service tests.
// Zero-value behavior is benign: calls succeed and return the configured
// fixtures or empty results. Tests inject errors per call site.
type FakeProviderClient struct {
	mu sync.Mutex

	Provider types.ProviderType

	CheckoutSessionResult *integration.CheckoutSession
	PaymentLinkResult     *integration.PaymentLink
	PriceResult           *integration.Price
	PortalSessionResult   *integration.PortalSession
	SubscriptionResult    *integration.Subscription
	InvoiceResult         *integration.Invoice
	PaymentMethodsResult  []*integration.PaymentMethod
	SessionsByOpKeyResult []*integration.CheckoutSession

	VerifyErr          error
	CheckoutErr        error
	PaymentLinkErr     error
	PriceErr           error
	PortalErr          error
	RetrieveSessionErr error
	RetrieveSubErr     error
	RetrieveInvoiceErr error
	ListSessionsErr    error
	ExpireErr          error
	CancelErr          error

	CreateCheckoutCalls int
	CancelCalls         []string
	ExpireCalls         []string
}

func NewFakeProviderClient(provider types.ProviderType) *FakeProviderClient {
	return &FakeProviderClient{Provider: provider}
}

func (f *FakeProviderClient) ProviderType() types.ProviderType {
	return f.Provider
}

func (f *FakeProviderClient) CreateCheckoutSession(ctx context.Context, params *integration.CheckoutSessionParams) (*integration.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCheckoutCalls++
	if f.CheckoutErr != nil {
		return nil, f.CheckoutErr
	}
	if f.CheckoutSessionResult != nil {
		cp := *f.CheckoutSessionResult
		cp.OperationKey = params.OperationKey
		return &cp, nil
	}
	return &integration.CheckoutSession{
		ID:           "cs_" + params.OperationKey,
		URL:          "https://provider.test/checkout/" + params.OperationKey,
		Status:       "open",
		OperationKey: params.OperationKey,
	}, nil
}

func (f *FakeProviderClient) CreatePaymentLink(ctx context.Context, params *integration.PaymentLinkParams) (*integration.PaymentLink, error) {
	if f.PaymentLinkErr != nil {
		return nil, f.PaymentLinkErr
	}
	if f.PaymentLinkResult != nil {
		cp := *f.PaymentLinkResult
		return &cp, nil
	}
	return &integration.PaymentLink{
		ID:  "pl_" + params.OperationKey,
		URL: "https://provider.test/pay/" + params.OperationKey,
	}, nil
}

func (f *FakeProviderClient) CreatePrice(ctx context.Context, params *integration.PriceParams) (*integration.Price, error) {
	if f.PriceErr != nil {
		return nil, f.PriceErr
	}
	if f.PriceResult != nil {
		cp := *f.PriceResult
		return &cp, nil
	}
	return &integration.Price{
		ID:         "price_" + params.IdempotencyKey,
		Currency:   params.Currency,
		UnitAmount: params.UnitAmount,
		Interval:   params.Interval,
		Active:     true,
	}, nil
}

func (f *FakeProviderClient) CreateBillingPortalSession(ctx context.Context, params *integration.PortalSessionParams) (*integration.PortalSession, error) {
	if f.PortalErr != nil {
		return nil, f.PortalErr
	}
	if f.PortalSessionResult != nil {
		cp := *f.PortalSessionResult
		return &cp, nil
	}
	return &integration.PortalSession{
		ID:  "ps_" + params.ProviderCustomerID,
		URL: "https://provider.test/portal/" + params.ProviderCustomerID,
	}, nil
}

func (f *FakeProviderClient) VerifyWebhookEvent(ctx context.Context, payload []byte, signature string) error {
	return f.VerifyErr
}

func (f *FakeProviderClient) RetrieveCheckoutSession(ctx context.Context, providerSessionID string) (*integration.CheckoutSession, error) {
	if f.RetrieveSessionErr != nil {
		return nil, f.RetrieveSessionErr
	}
	if f.CheckoutSessionResult != nil {
		cp := *f.CheckoutSessionResult
		return &cp, nil
	}
	return &integration.CheckoutSession{ID: providerSessionID, Status: "open"}, nil
}

func (f *FakeProviderClient) RetrieveSubscription(ctx context.Context, providerSubscriptionID string) (*integration.Subscription, error) {
	if f.RetrieveSubErr != nil {
		return nil, f.RetrieveSubErr
	}
	if f.SubscriptionResult != nil {
		cp := *f.SubscriptionResult
		return &cp, nil
	}
	return &integration.Subscription{
		ID:     providerSubscriptionID,
		Status: types.SubscriptionStatusActive,
	}, nil
}

func (f *FakeProviderClient) RetrieveInvoice(ctx context.Context, providerInvoiceID string) (*integration.Invoice, error) {
	if f.RetrieveInvoiceErr != nil {
		return nil, f.RetrieveInvoiceErr
	}
	if f.InvoiceResult != nil {
		cp := *f.InvoiceResult
		return &cp, nil
	}
	return &integration.Invoice{ID: providerInvoiceID, Status: types.InvoiceStatusPaid}, nil
}

func (f *FakeProviderClient) RetrievePrice(ctx context.Context, providerPriceID string) (*integration.Price, error) {
	if f.PriceResult != nil {
		cp := *f.PriceResult
		return &cp, nil
	}
	return &integration.Price{ID: providerPriceID, Active: true}, nil
}

func (f *FakeProviderClient) ListPrices(ctx context.Context) ([]*integration.Price, error) {
	if f.PriceResult != nil {
		cp := *f.PriceResult
		return []*integration.Price{&cp}, nil
	}
	return nil, nil
}

func (f *FakeProviderClient) ExpireCheckoutSession(ctx context.Context, providerSessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ExpireErr != nil {
		return f.ExpireErr
	}
	f.ExpireCalls = append(f.ExpireCalls, providerSessionID)
	return nil
}

func (f *FakeProviderClient) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CancelErr != nil {
		return f.CancelErr
	}
	f.CancelCalls = append(f.CancelCalls, providerSubscriptionID)
	return nil
}

func (f *FakeProviderClient) ListCustomerPaymentMethods(ctx context.Context, providerCustomerID string) ([]*integration.PaymentMethod, error) {
	return f.PaymentMethodsResult, nil
}

func (f *FakeProviderClient) ListCheckoutSessionsByOperationKey(ctx context.Context, operationKey string) ([]*integration.CheckoutSession, error) {
	if f.ListSessionsErr != nil {
		return nil, f.ListSessionsErr
	}
	return f.SessionsByOpKeyResult, nil
}

func (f *FakeProviderClient) SdkProvenance() integration.SdkProvenance {
	return integration.SdkProvenance{Name: "fake", Version: "test"}
}

var _ integration.EventTranslator = (*FakeTranslator)(nil)

// FakeTranslator decodes test payloads that are already in canonical shape,
// so tests construct events directly as JSON.
type FakeTranslator struct{}

func NewFakeTranslator() *FakeTranslator {
	return &FakeTranslator{}
}

func (t *FakeTranslator) ToCanonicalEvent(payload []byte) (*integration.CanonicalEvent, error) {
	var event integration.CanonicalEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	event.Raw = payload
	return &event, nil
}

func (t *FakeTranslator) SupportsCanonicalEventType(eventType types.CanonicalEventType) bool {
	return eventType.IsProcessable()
}
