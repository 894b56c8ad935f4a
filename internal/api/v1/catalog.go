package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/reckonhq/reckon/internal/api/dto"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/service"
	"github.com/reckonhq/reckon/internal/types"
)

type CatalogHandler struct {
	service service.CatalogService
	log     *logger.Logger
}

func NewCatalogHandler(service service.CatalogService, log *logger.Logger) *CatalogHandler {
	return &CatalogHandler{service: service, log: log}
}

// @Summary Create a plan
// @Description Create a new sellable plan
// @Tags Catalog
// @Accept json
// @Produce json
// @Param plan body dto.CreatePlanRequest true "Plan"
// @Success 201 {object} plan.Plan
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /plans [post]
func (h *CatalogHandler) CreatePlan(c *gin.Context) {
	var req dto.CreatePlanRequest
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

	resp, err := h.service.CreatePlan(c.Request.Context(), &service.CreatePlanRequest{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Get a plan
// @Description Get a plan with its prices
// @Tags Catalog
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} service.PlanView
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /plans/{id} [get]
func (h *CatalogHandler) GetPlan(c *gin.Context) {
	resp, err := h.service.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary List plans
// @Description List plans with their prices
// @Tags Catalog
// @Produce json
// @Param limit query int false "Maximum plans"
// @Success 200 {array} service.PlanView
// @Failure 500 {object} ierr.ErrorResponse
// @Router /plans [get]
func (h *CatalogHandler) ListPlans(c *gin.Context) {
	var filter types.QueryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.ListPlans(c.Request.Context(), &filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Add a price to a plan
// @Description Create a provider-backed price; creation at the provider is idempotency-guarded
// @Tags Catalog
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param price body dto.CreatePriceRequest true "Price"
// @Success 201 {object} plan.Price
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /plans/{id}/prices [post]
func (h *CatalogHandler) CreatePrice(c *gin.Context) {
	var req dto.CreatePriceRequest
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

	resp, err := h.service.CreatePrice(c.Request.Context(), &service.CreatePriceRequest{
		PlanID:          c.Param("id"),
		ClientKey:       req.IdempotencyKey,
		Currency:        req.Currency,
		UnitAmount:      req.UnitAmount,
		BillingPeriod:   req.BillingPeriod,
		Kind:            req.Kind,
		Role:            req.Role,
		ProviderPriceID: req.ProviderPriceID,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Retire a price
// @Description Deactivate a price, freeing its sellable slot
// @Tags Catalog
// @Produce json
// @Param id path string true "Price ID"
// @Success 200 {object} plan.Price
// @Failure 404 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /prices/{id}/retire [post]
func (h *CatalogHandler) RetirePrice(c *gin.Context) {
	resp, err := h.service.RetirePrice(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
