package checkoutsession

import (
	"time"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// CheckoutSession tracks a provider checkout's lifecycle locally.
//
// BlockingKey is non-null exactly when the session is in a blocking state; a
// partial unique index over (billable_entity_id, blocking_key) enforces at
// most one blocking session per entity under concurrent inserts.
type CheckoutSession struct {
	ID                     string                      `db:"id" json:"id"`
	BillableEntityID       string                      `db:"billable_entity_id" json:"billable_entity_id"`
	Provider               types.ProviderType          `db:"provider" json:"provider"`
	ProviderSessionID      string                      `db:"provider_session_id" json:"provider_session_id"`
	ProviderCustomerID     string                      `db:"provider_customer_id" json:"provider_customer_id"`
	ProviderSubscriptionID string                      `db:"provider_subscription_id" json:"provider_subscription_id"`
	OperationKey           string                      `db:"operation_key" json:"operation_key"`
	PlanPriceID            string                      `db:"plan_price_id" json:"plan_price_id"`
	SessionStatus          types.CheckoutSessionStatus `db:"session_status" json:"session_status"`
	BlockingKey            *string                     `db:"blocking_key" json:"blocking_key,omitempty"`
	URL                    string                      `db:"url" json:"url"`
	ExpiresAt              *time.Time                  `db:"expires_at" json:"expires_at"`
	CompletedAt            *time.Time                  `db:"completed_at" json:"completed_at"`

	// SubscriptionID is set once the resulting subscription is confirmed in
	// the local projection, gating the completed_reconciled transition.
	SubscriptionID string `db:"subscription_id" json:"subscription_id"`

	types.BaseModel
}

func (s *CheckoutSession) Validate() error {
	if s.BillableEntityID == "" {
		return ierr.NewError("billable_entity_id is required").
			WithHint("A checkout session must belong to a billable entity").
			Mark(ierr.ErrValidation)
	}
	if err := s.Provider.Validate(); err != nil {
		return err
	}
	if s.OperationKey == "" {
		return ierr.NewError("operation_key is required").
			WithHint("A checkout session must carry an operation key").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Transition moves the session to target after validating the edge, and
// keeps the blocking key in sync.
func (s *CheckoutSession) Transition(target types.CheckoutSessionStatus) error {
	if err := s.SessionStatus.ValidateTransition(target); err != nil {
		return err
	}
	s.SessionStatus = target
	s.RefreshBlockingKey()
	return nil
}

// RefreshBlockingKey recomputes the partial-uniqueness key
func (s *CheckoutSession) RefreshBlockingKey() {
	if s.SessionStatus.IsBlocking() {
		key := "blocking"
		s.BlockingKey = &key
	} else {
		s.BlockingKey = nil
	}
}
