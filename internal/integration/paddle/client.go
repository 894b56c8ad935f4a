package paddle

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/reckonhq/reckon/internal/config"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/httpclient"
	"github.com/reckonhq/reckon/internal/integration"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/types"
)

const defaultBaseURL = "https://api.paddle.com"

// Client adapts the Paddle Billing REST API to the provider capability
// surface. Paddle has no dedicated checkout-session object; draft
// transactions carry the hosted checkout URL.
type Client struct {
	apiKey        string
	baseURL       string
	webhookSecret string
	httpClient    httpclient.Client
	logger        *logger.Logger
}

func NewClient(cfg *config.Configuration, logger *logger.Logger) *Client {
	baseURL := cfg.Paddle.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:        cfg.Paddle.APIKey,
		baseURL:       strings.TrimRight(baseURL, "/"),
		webhookSecret: cfg.Paddle.WebhookSecret,
		httpClient:    httpclient.NewDefaultClient(),
		logger:        logger,
	}
}

func (c *Client) ProviderType() types.ProviderType {
	return types.ProviderTypePaddle
}

func (c *Client) SdkProvenance() integration.SdkProvenance {
	return integration.SdkProvenance{Name: "paddle-rest", Version: "v1"}
}

func (c *Client) CreateCheckoutSession(ctx context.Context, params *integration.CheckoutSessionParams) (*integration.CheckoutSession, error) {
	customData := map[string]string{"operation_key": params.OperationKey}
	for k, v := range params.Metadata {
		customData[k] = v
	}

	body := map[string]interface{}{
		"items": []map[string]interface{}{
			{"price_id": params.ProviderPriceID, "quantity": params.Quantity},
		},
		"custom_data": customData,
		"checkout": map[string]interface{}{
			"url": params.SuccessURL,
		},
	}
	if params.ProviderCustomerID != "" {
		body["customer_id"] = params.ProviderCustomerID
	}

	var tx paddleTransaction
	if err := c.send(ctx, http.MethodPost, "/transactions", params.IdempotencyKey, body, &tx); err != nil {
		return nil, err
	}
	return checkoutSessionFromTransaction(&tx)
}

func (c *Client) CreatePaymentLink(ctx context.Context, params *integration.PaymentLinkParams) (*integration.PaymentLink, error) {
	customData := map[string]string{"operation_key": params.OperationKey}
	for k, v := range params.Metadata {
		customData[k] = v
	}

	body := map[string]interface{}{
		"items": []map[string]interface{}{
			{"price_id": params.ProviderPriceID, "quantity": params.Quantity},
		},
		"custom_data": customData,
	}

	var tx paddleTransaction
	if err := c.send(ctx, http.MethodPost, "/transactions", params.IdempotencyKey, body, &tx); err != nil {
		return nil, err
	}
	url := ""
	if tx.Checkout != nil {
		url = tx.Checkout.URL
	}
	return &integration.PaymentLink{ID: tx.ID, URL: url}, nil
}

func (c *Client) CreatePrice(ctx context.Context, params *integration.PriceParams) (*integration.Price, error) {
	interval := params.Interval
	if interval == "" {
		interval = "month"
	}
	body := map[string]interface{}{
		"description": params.ProductName,
		"unit_price": map[string]interface{}{
			"amount":        fmt.Sprintf("%d", params.UnitAmount),
			"currency_code": strings.ToUpper(params.Currency),
		},
		"billing_cycle": map[string]interface{}{
			"interval":  interval,
			"frequency": 1,
		},
		"custom_data": params.Metadata,
	}

	var price paddlePrice
	if err := c.send(ctx, http.MethodPost, "/prices", params.IdempotencyKey, body, &price); err != nil {
		return nil, err
	}
	return priceFromPaddle(&price)
}

func (c *Client) CreateBillingPortalSession(ctx context.Context, params *integration.PortalSessionParams) (*integration.PortalSession, error) {
	path := fmt.Sprintf("/customers/%s/portal-sessions", params.ProviderCustomerID)

	var portal struct {
		ID   string `json:"id"`
		URLs struct {
			General struct {
				Overview string `json:"overview"`
			} `json:"general"`
		} `json:"urls"`
	}
	if err := c.send(ctx, http.MethodPost, path, params.IdempotencyKey, map[string]interface{}{}, &portal); err != nil {
		return nil, err
	}
	return &integration.PortalSession{ID: portal.ID, URL: portal.URLs.General.Overview}, nil
}

// VerifyWebhookEvent checks the Paddle-Signature header, which carries
// "ts=<unix>;h1=<hex hmac>" where the HMAC-SHA256 input is "<ts>:<payload>".
func (c *Client) VerifyWebhookEvent(_ context.Context, payload []byte, signature string) error {
	ts, h1 := "", ""
	for _, part := range strings.Split(signature, ";") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "h1":
			h1 = v
		}
	}
	if ts == "" || h1 == "" {
		return ierr.NewError("malformed webhook signature").
			WithHint("Paddle signatures carry ts and h1 components").
			Mark(ierr.ErrPermissionDenied)
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte(":"))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(h1)) {
		c.logger.Errorw("Paddle webhook verification failed")
		return ierr.NewError("failed to verify webhook signature").
			WithHint("Invalid webhook signature or payload").
			Mark(ierr.ErrPermissionDenied)
	}
	return nil
}

func (c *Client) RetrieveCheckoutSession(ctx context.Context, providerSessionID string) (*integration.CheckoutSession, error) {
	var tx paddleTransaction
	if err := c.send(ctx, http.MethodGet, "/transactions/"+providerSessionID, "", nil, &tx); err != nil {
		return nil, err
	}
	return checkoutSessionFromTransaction(&tx)
}

func (c *Client) RetrieveSubscription(ctx context.Context, providerSubscriptionID string) (*integration.Subscription, error) {
	var sub paddleSubscription
	if err := c.send(ctx, http.MethodGet, "/subscriptions/"+providerSubscriptionID, "", nil, &sub); err != nil {
		return nil, err
	}
	return subscriptionFromPaddle(&sub)
}

func (c *Client) RetrieveInvoice(ctx context.Context, providerInvoiceID string) (*integration.Invoice, error) {
	var tx paddleTransaction
	if err := c.send(ctx, http.MethodGet, "/transactions/"+providerInvoiceID, "", nil, &tx); err != nil {
		return nil, err
	}
	return invoiceFromTransaction(&tx)
}

func (c *Client) RetrievePrice(ctx context.Context, providerPriceID string) (*integration.Price, error) {
	var price paddlePrice
	if err := c.send(ctx, http.MethodGet, "/prices/"+providerPriceID, "", nil, &price); err != nil {
		return nil, err
	}
	return priceFromPaddle(&price)
}

func (c *Client) ListPrices(ctx context.Context) ([]*integration.Price, error) {
	var raw []paddlePrice
	if err := c.sendList(ctx, "/prices?status=active&per_page=200", &raw); err != nil {
		return nil, err
	}
	prices := make([]*integration.Price, 0, len(raw))
	for i := range raw {
		price, err := priceFromPaddle(&raw[i])
		if err != nil {
			return nil, err
		}
		prices = append(prices, price)
	}
	return prices, nil
}

// ExpireCheckoutSession cancels the draft transaction behind the checkout;
// Paddle has no dedicated expire operation.
func (c *Client) ExpireCheckoutSession(ctx context.Context, providerSessionID string) error {
	body := map[string]interface{}{"status": "canceled"}
	var tx paddleTransaction
	return c.send(ctx, http.MethodPatch, "/transactions/"+providerSessionID, "", body, &tx)
}

func (c *Client) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	body := map[string]interface{}{"effective_from": "immediately"}
	var sub paddleSubscription
	return c.send(ctx, http.MethodPost, "/subscriptions/"+providerSubscriptionID+"/cancel", "", body, &sub)
}

func (c *Client) ListCustomerPaymentMethods(ctx context.Context, providerCustomerID string) ([]*integration.PaymentMethod, error) {
	var raw []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Card *struct {
			Type        string `json:"type"`
			Last4       string `json:"last4"`
			ExpiryMonth int    `json:"expiry_month"`
			ExpiryYear  int    `json:"expiry_year"`
		} `json:"card"`
	}
	path := fmt.Sprintf("/customers/%s/payment-methods", providerCustomerID)
	if err := c.sendList(ctx, path, &raw); err != nil {
		return nil, err
	}

	methods := make([]*integration.PaymentMethod, 0, len(raw))
	for _, pm := range raw {
		method := &integration.PaymentMethod{ID: pm.ID, Kind: pm.Type}
		if pm.Card != nil {
			method.Brand = pm.Card.Type
			method.Last4 = pm.Card.Last4
			method.ExpMonth = pm.Card.ExpiryMonth
			method.ExpYear = pm.Card.ExpiryYear
		}
		methods = append(methods, method)
	}
	return methods, nil
}

func (c *Client) ListCheckoutSessionsByOperationKey(ctx context.Context, operationKey string) ([]*integration.CheckoutSession, error) {
	var raw []paddleTransaction
	if err := c.sendList(ctx, "/transactions?per_page=200", &raw); err != nil {
		return nil, err
	}

	var sessions []*integration.CheckoutSession
	for i := range raw {
		if raw[i].CustomData["operation_key"] != operationKey {
			continue
		}
		session, err := checkoutSessionFromTransaction(&raw[i])
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// send issues one API call and decodes the "data" envelope into out
func (c *Client) send(ctx context.Context, method, path, idempotencyKey string, body interface{}, out interface{}) error {
	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Content-Type":  "application/json",
		"Accept":        "application/json",
	}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}

	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to encode Paddle request body").
				Mark(ierr.ErrSystem)
		}
	}

	resp, err := c.httpClient.Send(ctx, &httpclient.Request{
		Method:  method,
		URL:     c.baseURL + path,
		Headers: headers,
		Body:    jsonBody,
	})
	if err != nil {
		c.logger.Errorw("paddle API request failed",
			"error", err,
			"method", method,
			"path", path)
		return ierr.NewError("failed to make request to Paddle API").
			WithHint("Unable to reach Paddle").
			WithReportableDetails(map[string]interface{}{
				"method": method,
				"path":   path,
				"error":  err.Error(),
			}).
			Mark(ierr.ErrIntegration)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		return ierr.WithError(err).
			WithHint("Paddle response is not valid JSON").
			Mark(ierr.ErrIntegration)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return ierr.WithError(err).
				WithHint("Paddle response shape was unexpected").
				Mark(ierr.ErrIntegration)
		}
	}
	return nil
}

func (c *Client) sendList(ctx context.Context, path string, out interface{}) error {
	return c.send(ctx, http.MethodGet, path, "", nil, out)
}

type paddleTransaction struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	CustomerID     string            `json:"customer_id"`
	SubscriptionID string            `json:"subscription_id"`
	CurrencyCode   string            `json:"currency_code"`
	CustomData     map[string]string `json:"custom_data"`
	BilledAt       interface{}       `json:"billed_at"`
	CreatedAt      interface{}       `json:"created_at"`
	Checkout       *struct {
		URL string `json:"url"`
	} `json:"checkout"`
	Details *struct {
		Totals *struct {
			Total      interface{} `json:"total"`
			GrandTotal interface{} `json:"grand_total"`
			Balance    interface{} `json:"balance"`
		} `json:"totals"`
	} `json:"details"`
	BillingPeriod *struct {
		StartsAt interface{} `json:"starts_at"`
		EndsAt   interface{} `json:"ends_at"`
	} `json:"billing_period"`
}

type paddleSubscription struct {
	ID                   string            `json:"id"`
	Status               string            `json:"status"`
	CustomerID           string            `json:"customer_id"`
	CurrencyCode         string            `json:"currency_code"`
	CustomData           map[string]string `json:"custom_data"`
	CurrentBillingPeriod *struct {
		StartsAt interface{} `json:"starts_at"`
		EndsAt   interface{} `json:"ends_at"`
	} `json:"current_billing_period"`
	CanceledAt      interface{} `json:"canceled_at"`
	ScheduledChange *struct {
		Action      string      `json:"action"`
		EffectiveAt interface{} `json:"effective_at"`
	} `json:"scheduled_change"`
	Items []struct {
		Quantity int64 `json:"quantity"`
		Price    *struct {
			ID        string `json:"id"`
			UnitPrice *struct {
				Amount       interface{} `json:"amount"`
				CurrencyCode string      `json:"currency_code"`
			} `json:"unit_price"`
		} `json:"price"`
	} `json:"items"`
}

type paddlePrice struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	UnitPrice *struct {
		Amount       interface{} `json:"amount"`
		CurrencyCode string      `json:"currency_code"`
	} `json:"unit_price"`
	BillingCycle *struct {
		Interval string `json:"interval"`
	} `json:"billing_cycle"`
}

func checkoutSessionFromTransaction(tx *paddleTransaction) (*integration.CheckoutSession, error) {
	session := &integration.CheckoutSession{
		ID:                     tx.ID,
		Status:                 checkoutStatusFromTransaction(tx.Status),
		ProviderCustomerID:     tx.CustomerID,
		ProviderSubscriptionID: tx.SubscriptionID,
		OperationKey:           tx.CustomData["operation_key"],
	}
	if tx.Checkout != nil {
		session.URL = tx.Checkout.URL
	}
	created, err := integration.ParseFlexibleTime(tx.CreatedAt)
	if err != nil {
		return nil, err
	}
	if !created.IsZero() {
		// Paddle drafts have no explicit expiry; transactions lapse after a day
		session.ExpiresAt = created.Add(24 * time.Hour)
	}
	return session, nil
}

func checkoutStatusFromTransaction(status string) string {
	switch status {
	case "completed", "paid", "billed":
		return "complete"
	case "canceled":
		return "expired"
	default:
		return "open"
	}
}

func subscriptionFromPaddle(sub *paddleSubscription) (*integration.Subscription, error) {
	out := &integration.Subscription{
		ID:                 sub.ID,
		ProviderCustomerID: sub.CustomerID,
		Status:             subscriptionStatusFromPaddle(sub.Status),
		Currency:           strings.ToLower(sub.CurrencyCode),
		OperationKey:       sub.CustomData["operation_key"],
	}
	if sub.CurrentBillingPeriod != nil {
		start, err := integration.ParseFlexibleTime(sub.CurrentBillingPeriod.StartsAt)
		if err != nil {
			return nil, err
		}
		end, err := integration.ParseFlexibleTime(sub.CurrentBillingPeriod.EndsAt)
		if err != nil {
			return nil, err
		}
		out.CurrentPeriodStart = start
		out.CurrentPeriodEnd = end
	}
	cancelledAt, err := integration.ParseFlexibleTime(sub.CanceledAt)
	if err != nil {
		return nil, err
	}
	if !cancelledAt.IsZero() {
		out.CancelledAt = &cancelledAt
	}
	if sub.ScheduledChange != nil && sub.ScheduledChange.Action == "cancel" {
		out.CancelAtPeriodEnd = true
		effective, err := integration.ParseFlexibleTime(sub.ScheduledChange.EffectiveAt)
		if err != nil {
			return nil, err
		}
		if !effective.IsZero() {
			out.CancelAt = &effective
		}
	}
	for _, item := range sub.Items {
		line := integration.SubscriptionItem{Quantity: item.Quantity}
		if item.Price != nil {
			line.ID = item.Price.ID
			line.ProviderPriceID = item.Price.ID
			if item.Price.UnitPrice != nil {
				amount, err := integration.ParseMinorUnits(item.Price.UnitPrice.Amount)
				if err != nil {
					return nil, err
				}
				line.UnitAmount = amount
				line.Currency = strings.ToLower(item.Price.UnitPrice.CurrencyCode)
			}
		}
		out.Items = append(out.Items, line)
	}
	return out, nil
}

func invoiceFromTransaction(tx *paddleTransaction) (*integration.Invoice, error) {
	out := &integration.Invoice{
		ID:                     tx.ID,
		ProviderCustomerID:     tx.CustomerID,
		ProviderSubscriptionID: tx.SubscriptionID,
		Status:                 invoiceStatusFromTransaction(tx.Status),
		Currency:               strings.ToLower(tx.CurrencyCode),
	}
	if tx.Details != nil && tx.Details.Totals != nil {
		total, err := integration.ParseMinorUnits(tx.Details.Totals.GrandTotal)
		if err != nil {
			return nil, err
		}
		balance, err := integration.ParseMinorUnits(tx.Details.Totals.Balance)
		if err != nil {
			return nil, err
		}
		out.AmountDue = total
		out.AmountPaid = total - balance
	}
	if tx.BillingPeriod != nil {
		start, err := integration.ParseFlexibleTime(tx.BillingPeriod.StartsAt)
		if err != nil {
			return nil, err
		}
		end, err := integration.ParseFlexibleTime(tx.BillingPeriod.EndsAt)
		if err != nil {
			return nil, err
		}
		if !start.IsZero() {
			out.PeriodStart = &start
		}
		if !end.IsZero() {
			out.PeriodEnd = &end
		}
	}
	return out, nil
}

func invoiceStatusFromTransaction(status string) types.InvoiceStatus {
	switch status {
	case "completed", "paid":
		return types.InvoiceStatusPaid
	case "billed", "ready", "past_due":
		return types.InvoiceStatusOpen
	case "canceled":
		return types.InvoiceStatusVoid
	default:
		return types.InvoiceStatusDraft
	}
}

func priceFromPaddle(price *paddlePrice) (*integration.Price, error) {
	out := &integration.Price{
		ID:     price.ID,
		Active: price.Status == "active",
	}
	if price.UnitPrice != nil {
		amount, err := integration.ParseMinorUnits(price.UnitPrice.Amount)
		if err != nil {
			return nil, err
		}
		out.UnitAmount = amount
		out.Currency = strings.ToLower(price.UnitPrice.CurrencyCode)
	}
	if price.BillingCycle != nil {
		out.Interval = price.BillingCycle.Interval
	}
	return out, nil
}

func subscriptionStatusFromPaddle(status string) types.SubscriptionStatus {
	switch status {
	case "active":
		return types.SubscriptionStatusActive
	case "trialing":
		return types.SubscriptionStatusTrialing
	case "past_due":
		return types.SubscriptionStatusPastDue
	case "paused":
		return types.SubscriptionStatusPaused
	case "canceled":
		return types.SubscriptionStatusCancelled
	default:
		return types.SubscriptionStatusIncomplete
	}
}
