package subscription

import (
	"time"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// Subscription mirrors a provider subscription locally. At most one row per
// billable entity may have IsCurrent set, and a current row's status must be
// non-terminal; the database enforces the former with a partial unique index.
// Rows are mutated only by webhook projection or remediation, never directly
// by user action.
type Subscription struct {
	ID                     string                   `db:"id" json:"id"`
	BillableEntityID       string                   `db:"billable_entity_id" json:"billable_entity_id"`
	Provider               types.ProviderType       `db:"provider" json:"provider"`
	ProviderSubscriptionID string                   `db:"provider_subscription_id" json:"provider_subscription_id"`
	ProviderCustomerID     string                   `db:"provider_customer_id" json:"provider_customer_id"`
	PlanID                 string                   `db:"plan_id" json:"plan_id"`
	PlanPriceID            string                   `db:"plan_price_id" json:"plan_price_id"`
	SubscriptionStatus     types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	IsCurrent              bool                     `db:"is_current" json:"is_current"`
	Currency               string                   `db:"currency" json:"currency"`
	CurrentPeriodStart     time.Time                `db:"current_period_start" json:"current_period_start"`
	CurrentPeriodEnd       time.Time                `db:"current_period_end" json:"current_period_end"`
	CancelAt               *time.Time               `db:"cancel_at" json:"cancel_at"`
	CancelledAt            *time.Time               `db:"cancelled_at" json:"cancelled_at"`
	CancelAtPeriodEnd      bool                     `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	TrialStart             *time.Time               `db:"trial_start" json:"trial_start"`
	TrialEnd               *time.Time               `db:"trial_end" json:"trial_end"`

	// OperationKey ties the subscription back to the local request that
	// initiated it, threaded through checkout metadata.
	OperationKey string `db:"operation_key" json:"operation_key"`

	// Watermarks used to discard stale out-of-order provider events
	LastProviderEventID string     `db:"last_provider_event_id" json:"last_provider_event_id"`
	LastProviderEventAt *time.Time `db:"last_provider_event_at" json:"last_provider_event_at"`

	types.BaseModel
}

func (s *Subscription) Validate() error {
	if s.BillableEntityID == "" {
		return ierr.NewError("billable_entity_id is required").
			WithHint("A subscription must belong to a billable entity").
			Mark(ierr.ErrValidation)
	}
	if err := s.Provider.Validate(); err != nil {
		return err
	}
	if s.ProviderSubscriptionID == "" {
		return ierr.NewError("provider_subscription_id is required").
			WithHint("A subscription must have a provider subscription id").
			Mark(ierr.ErrValidation)
	}
	if s.IsCurrent && s.SubscriptionStatus.IsTerminal() {
		return ierr.NewError("current subscription cannot be terminal").
			WithHint("A current subscription must be in a non-terminal status").
			WithReportableDetails(map[string]any{
				"subscription_status": s.SubscriptionStatus,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return nil
}

// IsStaleEvent reports whether an inbound provider event is older than the
// watermark already applied to this row.
func (s *Subscription) IsStaleEvent(eventAt time.Time) bool {
	return s.LastProviderEventAt != nil && eventAt.Before(*s.LastProviderEventAt)
}

// LooksCurrent reports whether the provider-side status would qualify this
// subscription to be the entity's current one.
func (s *Subscription) LooksCurrent() bool {
	return !s.SubscriptionStatus.IsTerminal()
}

// Item is a line on a subscription, keyed by provider item id
type Item struct {
	ID              string             `db:"id" json:"id"`
	SubscriptionID  string             `db:"subscription_id" json:"subscription_id"`
	Provider        types.ProviderType `db:"provider" json:"provider"`
	ProviderItemID  string             `db:"provider_item_id" json:"provider_item_id"`
	ProviderPriceID string             `db:"provider_price_id" json:"provider_price_id"`
	Quantity        int64              `db:"quantity" json:"quantity"`
	UnitAmount      int64              `db:"unit_amount" json:"unit_amount"`
	Currency        string             `db:"currency" json:"currency"`
	types.BaseModel
}
