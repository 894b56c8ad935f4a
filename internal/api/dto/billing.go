package dto

import (
	"github.com/reckonhq/reckon/internal/service"
	"github.com/reckonhq/reckon/internal/validator"
)

// CreateCheckoutRequest starts (or replays) a provider checkout
type CreateCheckoutRequest struct {
	PlanID         string `json:"plan_id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
	SuccessURL     string `json:"success_url" validate:"required,url"`
	CancelURL      string `json:"cancel_url" validate:"required,url"`
}

func (r *CreateCheckoutRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// CreatePortalRequest opens a provider billing portal session
type CreatePortalRequest struct {
	ReturnURL      string `json:"return_url" validate:"required,url"`
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
}

func (r *CreatePortalRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// CreatePaymentLinkRequest creates a shareable provider payment link
type CreatePaymentLinkRequest struct {
	PlanID         string `json:"plan_id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required"`
	Quantity       int64  `json:"quantity" validate:"omitempty,min=1"`
}

func (r *CreatePaymentLinkRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// CheckoutResponse mirrors service.CheckoutResponse on the wire
type CheckoutResponse = service.CheckoutResponse

// PortalResponse mirrors service.PortalResponse on the wire
type PortalResponse = service.PortalResponse

// PaymentLinkResponse mirrors service.PaymentLinkResponse on the wire
type PaymentLinkResponse = service.PaymentLinkResponse
