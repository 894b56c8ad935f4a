package types

import (
	ierr "github.com/reckonhq/reckon/internal/errors"
)

// IdempotencyAction is the class of provider-facing action guarded by the ledger
type IdempotencyAction string

const (
	IdempotencyActionCheckout    IdempotencyAction = "checkout"
	IdempotencyActionPortal      IdempotencyAction = "portal"
	IdempotencyActionPaymentLink IdempotencyAction = "payment_link"
	IdempotencyActionPriceCreate IdempotencyAction = "price_create"
)

func (a IdempotencyAction) Validate() error {
	switch a {
	case IdempotencyActionCheckout,
		IdempotencyActionPortal,
		IdempotencyActionPaymentLink,
		IdempotencyActionPriceCreate:
		return nil
	default:
		return ierr.NewError("invalid idempotency action").
			WithHint("Unknown idempotent action type").
			WithReportableDetails(map[string]any{"action": a}).
			Mark(ierr.ErrValidation)
	}
}

func (a IdempotencyAction) String() string {
	return string(a)
}

// IdempotencyStatus is the lifecycle status of an idempotency request row
type IdempotencyStatus string

const (
	IdempotencyStatusPending   IdempotencyStatus = "pending"
	IdempotencyStatusSucceeded IdempotencyStatus = "succeeded"
	IdempotencyStatusFailed    IdempotencyStatus = "failed"
	IdempotencyStatusExpired   IdempotencyStatus = "expired"
)

// IsTerminal reports whether the request can no longer change
func (s IdempotencyStatus) IsTerminal() bool {
	return s == IdempotencyStatusSucceeded ||
		s == IdempotencyStatusFailed ||
		s == IdempotencyStatusExpired
}
