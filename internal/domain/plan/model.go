package plan

import (
	"time"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// Plan is a sellable recurring offering
type Plan struct {
	ID          string `db:"id" json:"id"`
	Code        string `db:"code" json:"code"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	types.BaseModel
}

func (p *Plan) Validate() error {
	if p.Code == "" {
		return ierr.NewError("code is required").
			WithHint("Please provide a plan code").
			Mark(ierr.ErrValidation)
	}
	if p.Name == "" {
		return ierr.NewError("name is required").
			WithHint("Please provide a plan name").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Price is a versioned, provider-specific price for a plan.
//
// SellableKey is non-null exactly when the price is active, licensed, and
// base; a unique index over (plan_id, provider, sellable_key) enforces that
// at most one sellable price exists per (plan, provider) even under
// concurrent inserts.
type Price struct {
	ID              string             `db:"id" json:"id"`
	PlanID          string             `db:"plan_id" json:"plan_id"`
	Provider        types.ProviderType `db:"provider" json:"provider"`
	ProviderPriceID string             `db:"provider_price_id" json:"provider_price_id"`
	Currency        string             `db:"currency" json:"currency"`
	UnitAmount      int64              `db:"unit_amount" json:"unit_amount"`
	BillingPeriod   types.BillingPeriod `db:"billing_period" json:"billing_period"`
	Kind            types.PriceKind    `db:"kind" json:"kind"`
	Role            types.PriceRole    `db:"role" json:"role"`
	Active          bool               `db:"active" json:"active"`
	Version         int                `db:"version" json:"version"`
	SellableKey     *string            `db:"sellable_key" json:"sellable_key,omitempty"`
	EffectiveAt     time.Time          `db:"effective_at" json:"effective_at"`
	types.BaseModel
}

func (p *Price) Validate() error {
	if p.PlanID == "" {
		return ierr.NewError("plan_id is required").
			WithHint("A price must belong to a plan").
			Mark(ierr.ErrValidation)
	}
	if err := p.Provider.Validate(); err != nil {
		return err
	}
	if _, err := types.NormalizeCurrency(p.Currency); err != nil {
		return err
	}
	if p.UnitAmount < 0 {
		return ierr.NewError("unit_amount must not be negative").
			WithHint("Amounts are integer minor units").
			Mark(ierr.ErrValidation)
	}
	if err := p.Kind.Validate(); err != nil {
		return err
	}
	if err := p.BillingPeriod.Validate(); err != nil {
		return err
	}
	return nil
}

// IsSellable reports whether this price qualifies as the plan's sellable
// price for its provider.
func (p *Price) IsSellable() bool {
	return p.Active && p.Kind == types.PriceKindLicensed && p.Role == types.PriceRoleBase
}

// RefreshSellableKey recomputes the partial-uniqueness key. Must be called
// before persisting any change to Active, Kind, or Role.
func (p *Price) RefreshSellableKey() {
	if p.IsSellable() {
		key := "sellable"
		p.SellableKey = &key
	} else {
		p.SellableKey = nil
	}
}
