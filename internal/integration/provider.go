package integration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/reckonhq/reckon/internal/types"
)

// CanonicalEvent is the provider-agnostic normalized webhook payload.
// Monetary values inside Data are integer minor units; Created is unix
// epoch seconds. Raw preserves the original provider payload untouched.
type CanonicalEvent struct {
	ID      string                   `json:"id"`
	Type    types.CanonicalEventType `json:"type"`
	Created int64                    `json:"created"`
	Data    CanonicalEventData       `json:"data"`
	Raw     json.RawMessage          `json:"raw"`
}

// CanonicalEventData wraps the normalized event object
type CanonicalEventData struct {
	Object map[string]interface{} `json:"object"`
}

// CheckoutSessionParams are the frozen parameters of a provider checkout
type CheckoutSessionParams struct {
	ProviderCustomerID string            `json:"provider_customer_id,omitempty"`
	CustomerEmail      string            `json:"customer_email,omitempty"`
	ProviderPriceID    string            `json:"provider_price_id"`
	Quantity           int64             `json:"quantity"`
	OperationKey       string            `json:"operation_key"`
	IdempotencyKey     string            `json:"idempotency_key"`
	SuccessURL         string            `json:"success_url"`
	CancelURL          string            `json:"cancel_url"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// CheckoutSession is a provider checkout session
type CheckoutSession struct {
	ID                     string
	URL                    string
	Status                 string
	ProviderCustomerID     string
	ProviderSubscriptionID string
	OperationKey           string
	ExpiresAt              time.Time
}

// PaymentLinkParams are the frozen parameters of a provider payment link
type PaymentLinkParams struct {
	ProviderPriceID string            `json:"provider_price_id"`
	Quantity        int64             `json:"quantity"`
	OperationKey    string            `json:"operation_key"`
	IdempotencyKey  string            `json:"idempotency_key"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// PaymentLink is a provider payment link
type PaymentLink struct {
	ID  string
	URL string
}

// PortalSessionParams are the frozen parameters of a billing portal session
type PortalSessionParams struct {
	ProviderCustomerID string `json:"provider_customer_id"`
	ReturnURL          string `json:"return_url"`
	IdempotencyKey     string `json:"idempotency_key"`
}

// PortalSession is a provider billing portal session
type PortalSession struct {
	ID  string
	URL string
}

// PriceParams are the frozen parameters of a provider price creation
type PriceParams struct {
	ProductName    string            `json:"product_name"`
	Currency       string            `json:"currency"`
	UnitAmount     int64             `json:"unit_amount"`
	Interval       string            `json:"interval"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Price is a provider price
type Price struct {
	ID         string
	Currency   string
	UnitAmount int64
	Interval   string
	Active     bool
}

// Subscription is a provider subscription snapshot
type Subscription struct {
	ID                 string
	ProviderCustomerID string
	Status             types.SubscriptionStatus
	Currency           string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAt           *time.Time
	CancelledAt        *time.Time
	CancelAtPeriodEnd  bool
	TrialStart         *time.Time
	TrialEnd           *time.Time
	OperationKey       string
	Items              []SubscriptionItem
}

// SubscriptionItem is one line of a provider subscription
type SubscriptionItem struct {
	ID              string
	ProviderPriceID string
	Quantity        int64
	UnitAmount      int64
	Currency        string
}

// Invoice is a provider invoice snapshot
type Invoice struct {
	ID                     string
	ProviderCustomerID     string
	ProviderSubscriptionID string
	Status                 types.InvoiceStatus
	Currency               string
	AmountDue              int64
	AmountPaid             int64
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
}

// PaymentMethod is a stored provider payment method
type PaymentMethod struct {
	ID       string
	Kind     string
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// SdkProvenance identifies the underlying provider SDK or transport
type SdkProvenance struct {
	Name    string
	Version string
}

// Client is the capability surface every payment provider must expose in
// full. The registry additionally asserts the method set by name at
// registration time (see registry.go) so a partially implemented provider
// fails at startup rather than mid-request.
type Client interface {
	ProviderType() types.ProviderType

	CreateCheckoutSession(ctx context.Context, params *CheckoutSessionParams) (*CheckoutSession, error)
	CreatePaymentLink(ctx context.Context, params *PaymentLinkParams) (*PaymentLink, error)
	CreatePrice(ctx context.Context, params *PriceParams) (*Price, error)
	CreateBillingPortalSession(ctx context.Context, params *PortalSessionParams) (*PortalSession, error)

	VerifyWebhookEvent(ctx context.Context, payload []byte, signature string) error

	RetrieveCheckoutSession(ctx context.Context, providerSessionID string) (*CheckoutSession, error)
	RetrieveSubscription(ctx context.Context, providerSubscriptionID string) (*Subscription, error)
	RetrieveInvoice(ctx context.Context, providerInvoiceID string) (*Invoice, error)
	RetrievePrice(ctx context.Context, providerPriceID string) (*Price, error)
	ListPrices(ctx context.Context) ([]*Price, error)

	ExpireCheckoutSession(ctx context.Context, providerSessionID string) error
	CancelSubscription(ctx context.Context, providerSubscriptionID string) error

	ListCustomerPaymentMethods(ctx context.Context, providerCustomerID string) ([]*PaymentMethod, error)
	ListCheckoutSessionsByOperationKey(ctx context.Context, operationKey string) ([]*CheckoutSession, error)

	SdkProvenance() SdkProvenance
}

// EventTranslator maps provider-native webhook payloads into the canonical
// event shape. A translator that does not recognize a native type returns a
// best-effort passthrough; SupportsCanonicalEventType gates whether the
// pipeline processes it further.
type EventTranslator interface {
	ToCanonicalEvent(payload []byte) (*CanonicalEvent, error)
	SupportsCanonicalEventType(t types.CanonicalEventType) bool
}
