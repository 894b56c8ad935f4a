package types

// RemediationAction is the repair a remediation row performs
type RemediationAction string

const (
	RemediationActionCancelDuplicate RemediationAction = "cancel_duplicate_subscription"
)

// RemediationStatus is the lifecycle status of a remediation row
type RemediationStatus string

const (
	RemediationStatusPending    RemediationStatus = "pending"
	RemediationStatusLeased     RemediationStatus = "leased"
	RemediationStatusSucceeded  RemediationStatus = "succeeded"
	RemediationStatusDeadLetter RemediationStatus = "dead_letter"
)

// IsTerminal reports whether the remediation will not be retried
func (s RemediationStatus) IsTerminal() bool {
	return s == RemediationStatusSucceeded || s == RemediationStatusDeadLetter
}
