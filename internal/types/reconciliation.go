package types

import (
	ierr "github.com/reckonhq/reckon/internal/errors"
)

// ReconciliationScope selects what a reconciliation run compares
type ReconciliationScope string

const (
	ReconciliationScopeSubscriptions ReconciliationScope = "subscriptions"
	ReconciliationScopeInvoices      ReconciliationScope = "invoices"
	ReconciliationScopeCheckouts     ReconciliationScope = "checkouts"
	ReconciliationScopeEntitlements  ReconciliationScope = "entitlements"
)

func (s ReconciliationScope) Validate() error {
	switch s {
	case ReconciliationScopeSubscriptions, ReconciliationScopeInvoices,
		ReconciliationScopeCheckouts, ReconciliationScopeEntitlements:
		return nil
	default:
		return ierr.NewError("invalid reconciliation scope").
			WithHint("Please provide a valid reconciliation scope").
			WithReportableDetails(map[string]any{"scope": s}).
			Mark(ierr.ErrValidation)
	}
}

// ReconciliationStatus is the lifecycle status of a reconciliation run
type ReconciliationStatus string

const (
	ReconciliationStatusRunning   ReconciliationStatus = "running"
	ReconciliationStatusSucceeded ReconciliationStatus = "succeeded"
	ReconciliationStatusFailed    ReconciliationStatus = "failed"
)

// IsTerminal reports whether the run has finished
func (s ReconciliationStatus) IsTerminal() bool {
	return s == ReconciliationStatusSucceeded || s == ReconciliationStatusFailed
}
