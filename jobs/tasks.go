package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// DefaultMaxRetry is the retry budget of every pharmacy task.
	DefaultMaxRetry = 3
	// TaskStockAlertScan classifies medicines into expired, out-of-stock and low-stock.
	TaskStockAlertScan = "medicines:stock-alerts"
	// TaskIdempotencyCleanup purges idempotency keys past the retention window.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// StockAlertPayload carries scheduling metadata.
type StockAlertPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewStockAlertTask constructs a stock alert scan task.
func NewStockAlertTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(StockAlertPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockAlertScan, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload names the retention window. Zero means the
// worker's configured default.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention < 0 {
		return nil, fmt.Errorf("jobs: negative retention %s", retention)
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewTask builds a task by type with its default payload. It backs manual
// triggers from the CLI.
func NewTask(name string, now time.Time) (*asynq.Task, error) {
	switch name {
	case TaskStockAlertScan:
		return NewStockAlertTask(now)
	case TaskIdempotencyCleanup:
		return NewIdempotencyCleanupTask(0)
	default:
		return nil, fmt.Errorf("jobs: unsupported task %s", name)
	}
}
