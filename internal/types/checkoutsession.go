package types

import (
	ierr "github.com/reckonhq/reckon/internal/errors"
)

// CheckoutSessionStatus is the lifecycle state of a provider checkout session
// mirrored locally. Only one session per billable entity may be in a blocking
// state at a time; the database enforces this with a partial unique index.
type CheckoutSessionStatus string

const (
	CheckoutSessionStatusOpen                         CheckoutSessionStatus = "open"
	CheckoutSessionStatusCompletedPendingSubscription CheckoutSessionStatus = "completed_pending_subscription"
	CheckoutSessionStatusCompletedReconciled          CheckoutSessionStatus = "completed_reconciled"
	CheckoutSessionStatusRecoveryVerificationPending  CheckoutSessionStatus = "recovery_verification_pending"
	CheckoutSessionStatusExpired                      CheckoutSessionStatus = "expired"
	CheckoutSessionStatusAbandoned                    CheckoutSessionStatus = "abandoned"
)

// IsBlocking reports whether a session in this state blocks creation of a new
// checkout session for the same billable entity.
func (s CheckoutSessionStatus) IsBlocking() bool {
	switch s {
	case CheckoutSessionStatusOpen,
		CheckoutSessionStatusCompletedPendingSubscription,
		CheckoutSessionStatusRecoveryVerificationPending:
		return true
	}
	return false
}

// IsTerminal reports whether the session can no longer transition
func (s CheckoutSessionStatus) IsTerminal() bool {
	switch s {
	case CheckoutSessionStatusCompletedReconciled,
		CheckoutSessionStatusExpired,
		CheckoutSessionStatusAbandoned:
		return true
	}
	return false
}

// checkoutSessionTransitions captures the allowed state machine edges
var checkoutSessionTransitions = map[CheckoutSessionStatus][]CheckoutSessionStatus{
	CheckoutSessionStatusOpen: {
		CheckoutSessionStatusCompletedPendingSubscription,
		CheckoutSessionStatusRecoveryVerificationPending,
		CheckoutSessionStatusExpired,
		CheckoutSessionStatusAbandoned,
	},
	CheckoutSessionStatusCompletedPendingSubscription: {
		CheckoutSessionStatusCompletedReconciled,
		CheckoutSessionStatusAbandoned,
	},
	CheckoutSessionStatusRecoveryVerificationPending: {
		CheckoutSessionStatusCompletedPendingSubscription,
		CheckoutSessionStatusCompletedReconciled,
		CheckoutSessionStatusAbandoned,
	},
}

// ValidateTransition returns an error if moving from s to target is not a
// legal state machine edge.
func (s CheckoutSessionStatus) ValidateTransition(target CheckoutSessionStatus) error {
	for _, allowed := range checkoutSessionTransitions[s] {
		if allowed == target {
			return nil
		}
	}
	return ierr.NewError("invalid checkout session transition").
		WithHint("Checkout session cannot move to the requested state").
		WithReportableDetails(map[string]any{
			"from": s,
			"to":   target,
		}).
		Mark(ierr.ErrInvalidOperation)
}
