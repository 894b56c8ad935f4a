package v1

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/reckonhq/reckon/internal/config"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/service"
	"github.com/reckonhq/reckon/internal/types"
)

// signatureHeaders maps each provider to the header carrying its webhook
// signature material.
var signatureHeaders = map[types.ProviderType]string{
	types.ProviderTypeStripe: "Stripe-Signature",
	types.ProviderTypePaddle: "Paddle-Signature",
}

type WebhookHandler struct {
	service service.WebhookService
	cfg     *config.Configuration
	log     *logger.Logger
}

func NewWebhookHandler(service service.WebhookService, cfg *config.Configuration, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, cfg: cfg, log: log}
}

// @Summary Ingest a provider webhook
// @Description Verify, record, correlate, and apply one provider event delivery
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param provider path string true "Provider (stripe or paddle)"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 403 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /webhooks/{provider} [post]
func (h *WebhookHandler) Ingest(c *gin.Context) {
	provider := types.ProviderType(c.Param("provider"))
	if err := provider.Validate(); err != nil {
		c.Error(err)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, h.cfg.Billing.WebhookMaxBodyBytes+1))
	if err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Failed to read webhook body").
			Mark(ierr.ErrValidation))
		return
	}
	if int64(len(payload)) > h.cfg.Billing.WebhookMaxBodyBytes {
		c.Error(ierr.NewError("webhook body too large").
			WithHint("Webhook payload exceeds the size limit").
			WithReportableDetails(map[string]any{
				"limit_bytes": h.cfg.Billing.WebhookMaxBodyBytes,
			}).
			Mark(ierr.ErrValidation))
		return
	}

	signature := c.GetHeader(signatureHeaders[provider])

	event, err := h.service.Ingest(c.Request.Context(), provider, payload, signature)
	if err != nil && event == nil {
		// Nothing durable was recorded; the provider should redeliver only
		// when the failure was on our side.
		c.Error(err)
		return
	}
	if err != nil {
		// The event row is stored and marked failed; acknowledge receipt so
		// the provider stops retrying and repair happens via Retry.
		h.log.Errorw("webhook stored but processing failed",
			"provider", provider,
			"event_id", event.ID,
			"error", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     event.ID,
		"status": string(event.EventStatus),
	})
}

// @Summary Retry a failed webhook event
// @Description Reprocess a durably failed event from its stored payload
// @Tags Webhooks
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} webhookevent.WebhookEvent
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /webhooks/events/{id}/retry [post]
func (h *WebhookHandler) Retry(c *gin.Context) {
	event, err := h.service.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// @Summary List failed webhook events
// @Description Durably failed events awaiting repair
// @Tags Webhooks
// @Produce json
// @Param provider query string true "Provider (stripe or paddle)"
// @Param limit query int false "Maximum events"
// @Success 200 {array} webhookevent.WebhookEvent
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /webhooks/failed [get]
func (h *WebhookHandler) ListFailed(c *gin.Context) {
	provider := types.ProviderType(c.Query("provider"))
	if err := provider.Validate(); err != nil {
		c.Error(err)
		return
	}

	var filter types.QueryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	events, err := h.service.ListFailed(c.Request.Context(), provider, filter.GetLimit())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, events)
}
