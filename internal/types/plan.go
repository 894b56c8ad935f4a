package types

import (
	ierr "github.com/reckonhq/reckon/internal/errors"
)

// PriceKind distinguishes how a price charges
type PriceKind string

const (
	PriceKindLicensed PriceKind = "licensed"
	PriceKindMetered  PriceKind = "metered"
)

func (k PriceKind) Validate() error {
	switch k {
	case PriceKindLicensed, PriceKindMetered:
		return nil
	default:
		return ierr.NewError("invalid price kind").
			WithHint("Please provide a valid price kind").
			WithReportableDetails(map[string]any{"kind": k}).
			Mark(ierr.ErrValidation)
	}
}

// PriceRole distinguishes the base recurring price from add-ons
type PriceRole string

const (
	PriceRoleBase  PriceRole = "base"
	PriceRoleAddon PriceRole = "addon"
)

// BillingPeriod is the recurrence of a plan price
type BillingPeriod string

const (
	BillingPeriodMonthly BillingPeriod = "monthly"
	BillingPeriodYearly  BillingPeriod = "yearly"
)

func (p BillingPeriod) Validate() error {
	switch p {
	case BillingPeriodMonthly, BillingPeriodYearly:
		return nil
	default:
		return ierr.NewError("invalid billing period").
			WithHint("Please provide a valid billing period").
			WithReportableDetails(map[string]any{"period": p}).
			Mark(ierr.ErrValidation)
	}
}
