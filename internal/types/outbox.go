package types

// OutboxJobType identifies the async work a leased outbox job performs
type OutboxJobType string

const (
	OutboxJobTypeBalanceRecompute    OutboxJobType = "balance_recompute"
	OutboxJobTypeRemediationKick     OutboxJobType = "remediation_kick"
	OutboxJobTypeCheckoutReconcile   OutboxJobType = "checkout_reconcile"
	OutboxJobTypeCheckoutExpirySweep OutboxJobType = "checkout_expiry_sweep"
)

// OutboxJobStatus is the lifecycle status of an outbox job
type OutboxJobStatus string

const (
	OutboxJobStatusPending    OutboxJobStatus = "pending"
	OutboxJobStatusLeased     OutboxJobStatus = "leased"
	OutboxJobStatusSucceeded  OutboxJobStatus = "succeeded"
	OutboxJobStatusFailed     OutboxJobStatus = "failed"
	OutboxJobStatusDeadLetter OutboxJobStatus = "dead_letter"
)

// IsTerminal reports whether the job will not be retried
func (s OutboxJobStatus) IsTerminal() bool {
	return s == OutboxJobStatusSucceeded || s == OutboxJobStatusDeadLetter
}
