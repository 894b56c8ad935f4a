package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/reckonhq/reckon/internal/api/dto"
	"github.com/reckonhq/reckon/internal/domain/billableentity"
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/logger"
	"github.com/reckonhq/reckon/internal/service"
	"github.com/reckonhq/reckon/internal/types"
)

type EntitlementHandler struct {
	service    service.EntitlementService
	entityRepo billableentity.Repository
	log        *logger.Logger
}

func NewEntitlementHandler(
	service service.EntitlementService,
	entityRepo billableentity.Repository,
	log *logger.Logger,
) *EntitlementHandler {
	return &EntitlementHandler{service: service, entityRepo: entityRepo, log: log}
}

func (h *EntitlementHandler) resolveEntityID(c *gin.Context) (string, error) {
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

// @Summary Consume an entitlement
// @Description Debit the caller's balance for a definition code; replays of the same dedupe key are no-ops
// @Tags Entitlements
// @Accept json
// @Produce json
// @Param request body dto.ConsumeRequest true "Consumption"
// @Success 200 {object} entitlement.Balance
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 403 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /entitlements/consume [post]
func (h *EntitlementHandler) Consume(c *gin.Context) {
	var req dto.ConsumeRequest
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

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = time.Unix(*req.OccurredAt, 0).UTC()
	}

	resp, err := h.service.Consume(c.Request.Context(), &service.ConsumeRequest{
		SubjectID:  entityID,
		Code:       req.Code,
		Amount:     req.Amount,
		OccurredAt: occurredAt,
		DedupeKey:  req.DedupeKey,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Check access
// @Description Report whether a debit of amount would be allowed under the definition's enforcement mode
// @Tags Entitlements
// @Produce json
// @Param code query string true "Definition code"
// @Param amount query int false "Prospective debit amount"
// @Success 200 {object} dto.CheckAccessResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /entitlements/access [get]
func (h *EntitlementHandler) CheckAccess(c *gin.Context) {
	var req dto.CheckAccessRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}
	if err := req.Validate(); err != nil {
		c.Error(err)
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}

	entityID, err := h.resolveEntityID(c)
	if err != nil {
		c.Error(err)
		return
	}

	allowed, balance, err := h.service.CheckAccess(c.Request.Context(), entityID, req.Code, req.Amount)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.CheckAccessResponse{
		Allowed: allowed,
		Balance: balance,
	})
}
