package billingcustomer

import (
	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// BillingCustomer is the provider-specific customer record for a billable
// entity. Unique per (provider, provider_customer_id) and per
// (billable_entity, provider); both constraints live in the database.
type BillingCustomer struct {
	ID                 string             `db:"id" json:"id"`
	BillableEntityID   string             `db:"billable_entity_id" json:"billable_entity_id"`
	Provider           types.ProviderType `db:"provider" json:"provider"`
	ProviderCustomerID string             `db:"provider_customer_id" json:"provider_customer_id"`
	Email              string             `db:"email" json:"email"`
	types.BaseModel
}

func (c *BillingCustomer) Validate() error {
	if c.BillableEntityID == "" {
		return ierr.NewError("billable_entity_id is required").
			WithHint("A billing customer must belong to a billable entity").
			Mark(ierr.ErrValidation)
	}
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	if c.ProviderCustomerID == "" {
		return ierr.NewError("provider_customer_id is required").
			WithHint("A billing customer must have a provider customer id").
			Mark(ierr.ErrValidation)
	}
	if len(c.ProviderCustomerID) > 191 {
		return ierr.NewError("provider_customer_id too long").
			WithHint("Provider ids are capped at 191 characters").
			Mark(ierr.ErrValidation)
	}
	return nil
}
