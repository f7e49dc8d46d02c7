package scheduler

import "time"

// Hooks dispatched through the task queue.
const (
	HookCartDebounce     = "cart_debounce"
	HookAbandonmentSweep = "abandonment_sweep"
	HookBackfillContinue = "backfill_continue"
)

// Task is a scheduled unit of work. Args must make the task self-contained:
// by the time it runs, live state may have moved on.
type Task struct {
	TaskID    string            `dynamodbav:"task_id"` // PK
	Hook      string            `dynamodbav:"hook"`
	Args      map[string]string `dynamodbav:"args,omitempty"`
	RunAt     int64             `dynamodbav:"run_at"` // epoch seconds
	Interval  int64             `dynamodbav:"interval_seconds,omitempty"`
	CreatedAt time.Time         `dynamodbav:"created_at"`
}

// Message is the SQS body carrying a task delivery to the worker.
type Message struct {
	TaskID string `json:"task_id"`
	Hook   string `json:"hook"`
}
