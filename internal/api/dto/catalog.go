package dto

import (
	"github.com/reckonhq/reckon/internal/types"
	"github.com/reckonhq/reckon/internal/validator"
)

// CreatePlanRequest creates a sellable plan
type CreatePlanRequest struct {
	Code        string `json:"code" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (r *CreatePlanRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// CreatePriceRequest adds a provider-backed price to a plan. When
// provider_price_id is empty the price is created at the provider first.
type CreatePriceRequest struct {
	IdempotencyKey  string              `json:"idempotency_key"`
	Currency        string              `json:"currency" validate:"required,len=3"`
	UnitAmount      int64               `json:"unit_amount" validate:"required,min=0"`
	BillingPeriod   types.BillingPeriod `json:"billing_period" validate:"required"`
	Kind            types.PriceKind     `json:"kind" validate:"required"`
	Role            types.PriceRole     `json:"role" validate:"required"`
	ProviderPriceID string              `json:"provider_price_id"`
}

func (r *CreatePriceRequest) Validate() error {
	return validator.ValidateRequest(r)
}
