package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile recomputes balances and document invariants.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskIdempotencyCleanup drops idempotency records past retention.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// ReconcilePayload selects what a reconciliation run inspects.
type ReconcilePayload struct {
	SkipAccounts  bool   `json:"skip_accounts,omitempty"`
	SkipDocuments bool   `json:"skip_documents,omitempty"`
	RequestedBy   string `json:"requested_by,omitempty"`
}

// NewReconcileTask constructs a reconciliation task.
func NewReconcileTask(payload ReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data), nil
}

// IdempotencyCleanupPayload carries the retention window. Zero falls back to
// the job default.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
