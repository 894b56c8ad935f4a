package stripe

import (
	"context"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/reckonhq/reckon/internal/config"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/types"
)

const operationKeyMetadata = "operation_key"

// Client adapts the Stripe SDK to the provider capability surface
type Client struct {
	sdk           *stripeapi.Client
	webhookSecret string
	logger        *logger.Logger
}

func NewClient(cfg *config.Configuration, logger *logger.Logger) *Client {
	return &Client{
		sdk:           stripeapi.NewClient(cfg.Stripe.SecretKey, nil),
		webhookSecret: cfg.Stripe.WebhookSecret,
		logger:        logger,
	}
}

func (c *Client) ProviderType() types.ProviderType {
	return types.ProviderTypeStripe
}

func (c *Client) SdkProvenance() integration.SdkProvenance {
	return integration.SdkProvenance{
		Name:    "stripe-go",
		Version: stripeapi.APIVersion,
	}
}

func (c *Client) CreateCheckoutSession(ctx context.Context, params *integration.CheckoutSessionParams) (*integration.CheckoutSession, error) {
	metadata := map[string]string{operationKeyMetadata: params.OperationKey}
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	createParams := &stripeapi.CheckoutSessionCreateParams{
		Mode: stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription)),
		LineItems: []*stripeapi.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripeapi.String(params.ProviderPriceID),
				Quantity: stripeapi.Int64(params.Quantity),
			},
		},
		SuccessURL: stripeapi.String(params.SuccessURL),
		CancelURL:  stripeapi.String(params.CancelURL),
		Metadata:   metadata,
		SubscriptionData: &stripeapi.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if params.ProviderCustomerID != "" {
		createParams.Customer = stripeapi.String(params.ProviderCustomerID)
	} else if params.CustomerEmail != "" {
		createParams.CustomerEmail = stripeapi.String(params.CustomerEmail)
	}
	createParams.SetIdempotencyKey(params.IdempotencyKey)

	session, err := c.sdk.V1CheckoutSessions.Create(ctx, createParams)
	if err != nil {
		c.logger.Errorw("failed to create Stripe checkout session",
			"error", err,
			"operation_key", params.OperationKey)
		return nil, ierr.NewError("failed to create checkout session").
			WithHint("Unable to create Stripe checkout session").
			WithReportableDetails(map[string]interface{}{
				"operation_key": params.OperationKey,
				"error":         err.Error(),
			}).
			Mark(ierr.ErrIntegration)
	}
	return checkoutSessionFromStripe(session), nil
}

func (c *Client) CreatePaymentLink(ctx context.Context, params *integration.PaymentLinkParams) (*integration.PaymentLink, error) {
	metadata := map[string]string{operationKeyMetadata: params.OperationKey}
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	createParams := &stripeapi.PaymentLinkCreateParams{
		LineItems: []*stripeapi.PaymentLinkCreateLineItemParams{
			{
				Price:    stripeapi.String(params.ProviderPriceID),
				Quantity: stripeapi.Int64(params.Quantity),
			},
		},
		Metadata: metadata,
	}
	createParams.SetIdempotencyKey(params.IdempotencyKey)

	link, err := c.sdk.V1PaymentLinks.Create(ctx, createParams)
	if err != nil {
		c.logger.Errorw("failed to create Stripe payment link",
			"error", err,
			"operation_key", params.OperationKey)
		return nil, ierr.NewError("failed to create payment link").
			WithHint("Unable to create Stripe payment link").
			WithReportableDetails(map[string]interface{}{
				"operation_key": params.OperationKey,
				"error":         err.Error(),
			}).
			Mark(ierr.ErrIntegration)
	}
	return &integration.PaymentLink{ID: link.ID, URL: link.URL}, nil
}

func (c *Client) CreatePrice(ctx context.Context, params *integration.PriceParams) (*integration.Price, error) {
	createParams := &stripeapi.PriceCreateParams{
		Currency:   stripeapi.String(params.Currency),
		UnitAmount: stripeapi.Int64(params.UnitAmount),
		Recurring: &stripeapi.PriceCreateRecurringParams{
			Interval: stripeapi.String(params.Interval),
		},
		ProductData: &stripeapi.PriceCreateProductDataParams{
			Name: stripeapi.String(params.ProductName),
		},
		Metadata: params.Metadata,
	}
	createParams.SetIdempotencyKey(params.IdempotencyKey)

	price, err := c.sdk.V1Prices.Create(ctx, createParams)
	if err != nil {
		c.logger.Errorw("failed to create Stripe price",
			"error", err,
			"product_name", params.ProductName)
		return nil, ierr.NewError("failed to create price").
			WithHint("Unable to create Stripe price").
			WithReportableDetails(map[string]interface{}{
				"product_name": params.ProductName,
				"error":        err.Error(),
			}).
			Mark(ierr.ErrIntegration)
	}
	return priceFromStripe(price), nil
}

func (c *Client) CreateBillingPortalSession(ctx context.Context, params *integration.PortalSessionParams) (*integration.PortalSession, error) {
	createParams := &stripeapi.BillingPortalSessionCreateParams{
		Customer:  stripeapi.String(params.ProviderCustomerID),
		ReturnURL: stripeapi.String(params.ReturnURL),
	}
	createParams.SetIdempotencyKey(params.IdempotencyKey)

	session, err := c.sdk.V1BillingPortalSessions.Create(ctx, createParams)
	if err != nil {
		c.logger.Errorw("failed to create Stripe billing portal session",
			"error", err,
			"provider_customer_id", params.ProviderCustomerID)
		return nil, ierr.NewError("failed to create billing portal session").
			WithHint("Unable to create Stripe billing portal session").
			WithReportableDetails(map[string]interface{}{
				"provider_customer_id": params.ProviderCustomerID,
				"error":                err.Error(),
			}).
			Mark(ierr.ErrIntegration)
	}
	return &integration.PortalSession{ID: session.ID, URL: session.URL}, nil
}

// VerifyWebhookEvent verifies the payload signature, ignoring API version
// mismatch so SDK upgrades do not reject otherwise valid events.
func (c *Client) VerifyWebhookEvent(_ context.Context, payload []byte, signature string) error {
	options := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	if _, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, options); err != nil {
		c.logger.Errorw("Stripe webhook verification failed", "error", err)
		return ierr.NewError("failed to verify webhook signature").
			WithHint("Invalid webhook signature or payload").
			Mark(ierr.ErrPermissionDenied)
	}
	return nil
}

func (c *Client) RetrieveCheckoutSession(ctx context.Context, providerSessionID string) (*integration.CheckoutSession, error) {
	session, err := c.sdk.V1CheckoutSessions.Retrieve(ctx, providerSessionID, nil)
	if err != nil {
		return nil, ierr.NewError("failed to retrieve checkout session").
			WithHint("Unable to fetch checkout session from Stripe").
			WithReportableDetails(map[string]interface{}{
				"session_id": providerSessionID,
				"error":      err.Error(),
			}).
			Mark(ierr.ErrIntegration)
	}
	return checkoutSessionFromStripe(session), nil
}

func (c *Client) RetrieveSubscription(ctx context.Context, providerSubscriptionID string) (*integration.Subscription, error) {
	params := &stripeapi.SubscriptionRetrieveParams{
		Expand: []*string{
			stripeapi.String("items.data.price"),
		},
	}
	sub, err := c.sdk.V1Subscriptions.Retrieve(ctx, providerSubscriptionID, params)
	if err != nil {
		return nil, ierr.NewError("failed to retrieve subscription").
			WithHint("Unable to fetch subscription from Stripe").
			WithReportableDetails(map[string]interface{}{
				"subscription_id": providerSubscriptionID,
				"error":           err.Error(),
			}).
			Mark(ierr.ErrIntegration)
	}
	return subscriptionFromStripe(sub), nil
}

func (c *Client) RetrieveInvoice(ctx context.Context, providerInvoiceID string) (*integration.Invoice, error) {
	inv, err := c.sdk.V1Invoices.Retrieve(ctx, providerInvoiceID, nil)
	if err != nil {
		return nil, ierr.NewError("failed to retrieve invoice").
			WithHint("Unable to fetch invoice from Stripe").
			WithReportableDetails(map[string]interface{}{
				"invoice_id": providerInvoiceID,
				"error":      err.Error(),
			}).
			Mark(ierr.ErrIntegration)
	}
	return invoiceFromStripe(inv), nil
}

func (c *Client) RetrievePrice(ctx context.Context, providerPriceID string) (*integration.Price, error) {
	price, err := c.sdk.V1Prices.Retrieve(ctx, providerPriceID, nil)
	if err != nil {
		return nil, ierr.NewError("failed to retrieve price").
			WithHint("Unable to fetch price from Stripe").
			WithReportableDetails(map[string]interface{}{
				"price_id": providerPriceID,
				"error":    err.Error(),
			}).
			Mark(ierr.ErrIntegration)
	}
	return priceFromStripe(price), nil
}

func (c *Client) ListPrices(ctx context.Context) ([]*integration.Price, error) {
	params := &stripeapi.PriceListParams{
		Active: stripeapi.Bool(true),
	}
	params.Limit = stripeapi.Int64(100)

	var prices []*integration.Price
	for price, err := range c.sdk.V1Prices.List(ctx, params) {
		if err != nil {
			return nil, ierr.NewError("failed to list prices").
				WithHint("Unable to list prices from Stripe").
				WithReportableDetails(map[string]interface{}{
					"error": err.Error(),
				}).
				Mark(ierr.ErrIntegration)
		}
		prices = append(prices, priceFromStripe(price))
	}
	return prices, nil
}

func (c *Client) ExpireCheckoutSession(ctx context.Context, providerSessionID string) error {
	_, err := c.sdk.V1CheckoutSessions.Expire(ctx, providerSessionID, &stripeapi.CheckoutSessionExpireParams{})
	if err != nil {
		return ierr.NewError("failed to expire checkout session").
			WithHint("Unable to expire checkout session at Stripe").
			WithReportableDetails(map[string]interface{}{
				"session_id": providerSessionID,
				"error":      err.Error(),
			}).
			Mark(ierr.ErrIntegration)
	}
	return nil
}

func (c *Client) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	_, err := c.sdk.V1Subscriptions.Cancel(ctx, providerSubscriptionID, &stripeapi.SubscriptionCancelParams{})
	if err != nil {
		return ierr.NewError("failed to cancel subscription").
			WithHint("Unable to cancel subscription at Stripe").
			WithReportableDetails(map[string]interface{}{
				"subscription_id": providerSubscriptionID,
				"error":           err.Error(),
			}).
			Mark(ierr.ErrIntegration)
	}
	return nil
}

func (c *Client) ListCustomerPaymentMethods(ctx context.Context, providerCustomerID string) ([]*integration.PaymentMethod, error) {
	params := &stripeapi.PaymentMethodListParams{
		Customer: stripeapi.String(providerCustomerID),
		Type:     stripeapi.String("card"),
	}

	var methods []*integration.PaymentMethod
	for pm, err := range c.sdk.V1PaymentMethods.List(ctx, params) {
		if err != nil {
			return nil, ierr.NewError("failed to list payment methods").
				WithHint("Unable to list payment methods from Stripe").
				WithReportableDetails(map[string]interface{}{
					"provider_customer_id": providerCustomerID,
					"error":                err.Error(),
				}).
				Mark(ierr.ErrIntegration)
		}
		method := &integration.PaymentMethod{
			ID:   pm.ID,
			Kind: string(pm.Type),
		}
		if pm.Card != nil {
			method.Brand = string(pm.Card.Brand)
			method.Last4 = pm.Card.Last4
			method.ExpMonth = int(pm.Card.ExpMonth)
			method.ExpYear = int(pm.Card.ExpYear)
		}
		methods = append(methods, method)
	}
	return methods, nil
}

// ListCheckoutSessionsByOperationKey lists recent sessions and filters on
// the operation_key metadata client-side; Stripe has no metadata filter on
// the list endpoint.
func (c *Client) ListCheckoutSessionsByOperationKey(ctx context.Context, operationKey string) ([]*integration.CheckoutSession, error) {
	params := &stripeapi.CheckoutSessionListParams{}
	params.Limit = stripeapi.Int64(100)

	var sessions []*integration.CheckoutSession
	for session, err := range c.sdk.V1CheckoutSessions.List(ctx, params) {
		if err != nil {
			return nil, ierr.NewError("failed to list checkout sessions").
				WithHint("Unable to list checkout sessions from Stripe").
				WithReportableDetails(map[string]interface{}{
					"operation_key": operationKey,
					"error":         err.Error(),
				}).
				Mark(ierr.ErrIntegration)
		}
		if session.Metadata[operationKeyMetadata] == operationKey {
			sessions = append(sessions, checkoutSessionFromStripe(session))
		}
	}
	return sessions, nil
}

func checkoutSessionFromStripe(session *stripeapi.CheckoutSession) *integration.CheckoutSession {
	out := &integration.CheckoutSession{
		ID:           session.ID,
		URL:          session.URL,
		Status:       string(session.Status),
		OperationKey: session.Metadata[operationKeyMetadata],
	}
	if session.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	if session.Customer != nil {
		out.ProviderCustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		out.ProviderSubscriptionID = session.Subscription.ID
	}
	return out
}

func subscriptionFromStripe(sub *stripeapi.Subscription) *integration.Subscription {
	out := &integration.Subscription{
		ID:                sub.ID,
		Status:            subscriptionStatusFromStripe(sub.Status),
		Currency:          string(sub.Currency),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.ProviderCustomerID = sub.Customer.ID
	}
	if sub.Metadata != nil {
		out.OperationKey = sub.Metadata[operationKeyMetadata]
	}
	if sub.CancelAt > 0 {
		t := time.Unix(sub.CancelAt, 0).UTC()
		out.CancelAt = &t
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0).UTC()
		out.CancelledAt = &t
	}
	if sub.TrialStart > 0 {
		t := time.Unix(sub.TrialStart, 0).UTC()
		out.TrialStart = &t
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0).UTC()
		out.TrialEnd = &t
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			line := integration.SubscriptionItem{
				ID:       item.ID,
				Quantity: item.Quantity,
			}
			if item.Price != nil {
				line.ProviderPriceID = item.Price.ID
				line.UnitAmount = item.Price.UnitAmount
				line.Currency = string(item.Price.Currency)
			}
			out.Items = append(out.Items, line)
		}
		// billing periods live on the items since the basil API version
		if len(sub.Items.Data) > 0 {
			first := sub.Items.Data[0]
			if first.CurrentPeriodStart > 0 {
				out.CurrentPeriodStart = time.Unix(first.CurrentPeriodStart, 0).UTC()
			}
			if first.CurrentPeriodEnd > 0 {
				out.CurrentPeriodEnd = time.Unix(first.CurrentPeriodEnd, 0).UTC()
			}
		}
	}
	return out
}

func invoiceFromStripe(inv *stripeapi.Invoice) *integration.Invoice {
	out := &integration.Invoice{
		ID:         inv.ID,
		Status:     invoiceStatusFromStripe(inv.Status),
		Currency:   string(inv.Currency),
		AmountDue:  inv.AmountDue,
		AmountPaid: inv.AmountPaid,
	}
	if inv.Customer != nil {
		out.ProviderCustomerID = inv.Customer.ID
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		out.ProviderSubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	if inv.PeriodStart > 0 {
		t := time.Unix(inv.PeriodStart, 0).UTC()
		out.PeriodStart = &t
	}
	if inv.PeriodEnd > 0 {
		t := time.Unix(inv.PeriodEnd, 0).UTC()
		out.PeriodEnd = &t
	}
	return out
}

func priceFromStripe(price *stripeapi.Price) *integration.Price {
	out := &integration.Price{
		ID:         price.ID,
		Currency:   string(price.Currency),
		UnitAmount: price.UnitAmount,
		Active:     price.Active,
	}
	if price.Recurring != nil {
		out.Interval = string(price.Recurring.Interval)
	}
	return out
}

func subscriptionStatusFromStripe(status stripeapi.SubscriptionStatus) types.SubscriptionStatus {
	switch status {
	case stripeapi.SubscriptionStatusActive:
		return types.SubscriptionStatusActive
	case stripeapi.SubscriptionStatusTrialing:
		return types.SubscriptionStatusTrialing
	case stripeapi.SubscriptionStatusPastDue:
		return types.SubscriptionStatusPastDue
	case stripeapi.SubscriptionStatusPaused:
		return types.SubscriptionStatusPaused
	case stripeapi.SubscriptionStatusUnpaid:
		return types.SubscriptionStatusUnpaid
	case stripeapi.SubscriptionStatusCanceled:
		return types.SubscriptionStatusCancelled
	case stripeapi.SubscriptionStatusIncompleteExpired:
		return types.SubscriptionStatusExpired
	default:
		return types.SubscriptionStatusIncomplete
	}
}

func invoiceStatusFromStripe(status stripeapi.InvoiceStatus) types.InvoiceStatus {
	switch status {
	case stripeapi.InvoiceStatusPaid:
		return types.InvoiceStatusPaid
	case stripeapi.InvoiceStatusOpen:
		return types.InvoiceStatusOpen
	case stripeapi.InvoiceStatusVoid:
		return types.InvoiceStatusVoid
	case stripeapi.InvoiceStatusUncollectible:
		return types.InvoiceStatusUncollectible
	default:
		return types.InvoiceStatusDraft
	}
}
