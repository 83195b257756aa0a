package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity verifies every stock item against its ledger.
	TaskLedgerIntegrity = "inventory:ledger-integrity"
	// TaskOrphanScan looks for PR links that no longer resolve to an active order.
	TaskOrphanScan = "procurement:orphan-scan"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency-cleanup"
)

// NewLedgerIntegrityTask builds the nightly balance check task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil, asynq.Queue(QueueDefault))
}

// NewOrphanScanTask builds the orphaned-PR scan task.
func NewOrphanScanTask() *asynq.Task {
	return asynq.NewTask(TaskOrphanScan, nil, asynq.Queue(QueueDefault))
}

// NewIdempotencyCleanupTask builds the idempotency key purge task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault))
}
