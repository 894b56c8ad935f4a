package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/reckonhq/reckon/internal/api/dto"
	"github.com/reckonhq/reckon/internal/domain/billableentity"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/service"
	"github.com/reckonhq/reckon/internal/types"
)

type BillingHandler struct {
	billingService     service.BillingService
	timelineService    service.TimelineService
	entitlementService service.EntitlementService
	entityRepo         billableentity.Repository
	log                *logger.Logger
}

func NewBillingHandler(
	billingService service.BillingService,
	timelineService service.TimelineService,
	entitlementService service.EntitlementService,
	entityRepo billableentity.Repository,
	log *logger.Logger,
) *BillingHandler {
	return &BillingHandler{
		billingService:     billingService,
		timelineService:    timelineService,
		entitlementService: entitlementService,
		entityRepo:         entityRepo,
		log:                log,
	}
}

// resolveEntityID maps the caller's workspace to its billable entity. The
// API is workspace-scoped; clients never pass entity ids directly.
func (h *BillingHandler) resolveEntityID(c *gin.Context) (string, error) {
	ctx := c.Request.Context()
	workspaceID := types.GetWorkspaceID(ctx)
	if workspaceID == "" {
		return "", ierr.NewError("missing workspace").
			WithHint("The X-Workspace-ID header is required").
			Mark(ierr.ErrPermissionDenied)
	}

	entity, err := h.entityRepo.GetByWorkspaceID(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	return entity.ID, nil
}

// @Summary Start a checkout session
// @Description Create (or replay) a provider checkout session for a plan
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body dto.CreateCheckoutRequest true "Checkout parameters"
// @Success 200 {object} dto.CheckoutResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /billing/checkout [post]
func (h *BillingHandler) CreateCheckout(c *gin.Context) {
	var req dto.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}

	entityID, err := h.resolveEntityID(c)
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.billingService.CreateCheckoutSession(c.Request.Context(), &service.CheckoutRequest{
		BillableEntityID: entityID,
		PlanID:           req.PlanID,
		ClientKey:        req.IdempotencyKey,
		SuccessURL:       req.SuccessURL,
		CancelURL:        req.CancelURL,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Open the billing portal
// @Description Create a provider billing portal session for the caller
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body dto.CreatePortalRequest true "Portal parameters"
// @Success 200 {object} dto.PortalResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /billing/portal [post]
func (h *BillingHandler) CreatePortal(c *gin.Context) {
	var req dto.CreatePortalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}

	entityID, err := h.resolveEntityID(c)
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.billingService.CreatePortalSession(c.Request.Context(), &service.PortalRequest{
		BillableEntityID: entityID,
		ClientKey:        req.IdempotencyKey,
		ReturnURL:        req.ReturnURL,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Create a payment link
// @Description Create a shareable provider payment link for a plan
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body dto.CreatePaymentLinkRequest true "Payment link parameters"
// @Success 200 {object} dto.PaymentLinkResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /billing/payment-links [post]
func (h *BillingHandler) CreatePaymentLink(c *gin.Context) {
	var req dto.CreatePaymentLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}

	entityID, err := h.resolveEntityID(c)
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.billingService.CreatePaymentLink(c.Request.Context(), &service.PaymentLinkRequest{
		BillableEntityID: entityID,
		PlanID:           req.PlanID,
		ClientKey:        req.IdempotencyKey,
		Quantity:         req.Quantity,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Get the current subscription
// @Description Get the caller's current subscription with its items
// @Tags Billing
// @Produce json
// @Success 200 {object} service.SubscriptionView
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /billing/subscription [get]
func (h *BillingHandler) GetSubscription(c *gin.Context) {
	entityID, err := h.resolveEntityID(c)
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.billingService.GetCurrentSubscription(c.Request.Context(), entityID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List stored payment methods
// @Description List the caller's payment methods from the provider
// @Tags Billing
// @Produce json
// @Success 200 {array} integration.PaymentMethod
// @Failure 500 {object} ierr.ErrorResponse
// @Router /billing/payment-methods [get]
func (h *BillingHandler) ListPaymentMethods(c *gin.Context) {
	entityID, err := h.resolveEntityID(c)
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.billingService.ListPaymentMethods(c.Request.Context(), entityID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Get the billing timeline
// @Description Merged invoices, payments, and subscription transitions, newest first
// @Tags Billing
// @Produce json
// @Param limit query int false "Maximum entries"
// @Success 200 {array} service.TimelineEntry
// @Failure 500 {object} ierr.ErrorResponse
// @Router /billing/timeline [get]
func (h *BillingHandler) GetTimeline(c *gin.Context) {
	var filter types.QueryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	entityID, err := h.resolveEntityID(c)
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.timelineService.GetTimeline(c.Request.Context(), entityID, &filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List current limitations
// @Description Current entitlement balances and lock states for the caller
// @Tags Billing
// @Produce json
// @Success 200 {array} entitlement.Balance
// @Failure 500 {object} ierr.ErrorResponse
// @Router /billing/limitations [get]
func (h *BillingHandler) ListLimitations(c *gin.Context) {
	entityID, err := h.resolveEntityID(c)
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.entitlementService.ListLimitations(c.Request.Context(), entityID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
