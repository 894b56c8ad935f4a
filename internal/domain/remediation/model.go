package remediation

import (
	"time"

	ierr "github.com/reckonhq/reckon/internal/errors"
	"github.com/reckonhq/reckon/internal/types"
)

// Remediation records the repair of one duplicate provider subscription:
// which subscription is canonical, which duplicate must be cancelled at the
// provider, and how far the worker has gotten. One row exists per
// (provider, duplicate_provider_subscription_id, action).
type Remediation struct {
	ID               string                  `db:"id" json:"id"`
	Provider         types.ProviderType      `db:"provider" json:"provider"`
	BillableEntityID string                  `db:"billable_entity_id" json:"billable_entity_id"`
	Action           types.RemediationAction `db:"action" json:"action"`

	CanonicalProviderSubscriptionID string `db:"canonical_provider_subscription_id" json:"canonical_provider_subscription_id"`
	DuplicateProviderSubscriptionID string `db:"duplicate_provider_subscription_id" json:"duplicate_provider_subscription_id"`

	RemediationStatus types.RemediationStatus `db:"remediation_status" json:"remediation_status"`
	AttemptCount      int                     `db:"attempt_count" json:"attempt_count"`
	NextAttemptAt     *time.Time              `db:"next_attempt_at" json:"next_attempt_at"`
	LastError         string                  `db:"last_error" json:"last_error"`
	ResolvedAt        *time.Time              `db:"resolved_at" json:"resolved_at"`

	types.Lease
	types.BaseModel
}

func (r *Remediation) Validate() error {
	if err := r.Provider.Validate(); err != nil {
		return err
	}
	if r.BillableEntityID == "" {
		return ierr.NewError("billable_entity_id is required").
			WithHint("A remediation must belong to a billable entity").
			Mark(ierr.ErrValidation)
	}
	if r.CanonicalProviderSubscriptionID == "" || r.DuplicateProviderSubscriptionID == "" {
		return ierr.NewError("canonical and duplicate subscription ids are required").
			WithHint("A remediation must identify both subscriptions").
			Mark(ierr.ErrValidation)
	}
	// A no-op remediation must never be recorded
	if r.CanonicalProviderSubscriptionID == r.DuplicateProviderSubscriptionID {
		return ierr.NewError("canonical and duplicate subscription ids must differ").
			WithHint("Cannot remediate a subscription against itself").
			WithReportableDetails(map[string]any{
				"provider_subscription_id": r.CanonicalProviderSubscriptionID,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return nil
}
