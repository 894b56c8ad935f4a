package dto

import (
	"github.com/reckonhq/reckon/internal/validator"
)

// ConsumeRequest debits an entitlement for the caller's entity
type ConsumeRequest struct {
	Code       string `json:"code" validate:"required"`
	Amount     int64  `json:"amount" validate:"required,min=1"`
	DedupeKey  string `json:"dedupe_key" validate:"required"`
	OccurredAt *int64 `json:"occurred_at"`
}

func (r *ConsumeRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// CheckAccessRequest asks whether a debit of amount would be allowed
type CheckAccessRequest struct {
	Code   string `json:"code" form:"code" validate:"required"`
	Amount int64  `json:"amount" form:"amount" validate:"omitempty,min=1"`
}

func (r *CheckAccessRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// CheckAccessResponse reports the enforcement decision and current balance
type CheckAccessResponse struct {
	Allowed bool        `json:"allowed"`
	Balance interface{} `json:"balance,omitempty"`
}
