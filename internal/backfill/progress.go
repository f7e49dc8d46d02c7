package backfill

import "time"

// Backfill statuses.
const (
	StatusIdle       = "idle"
	StatusStarting   = "starting"
	StatusInProgress = "in_progress"
	StatusStalled    = "stalled"
	StatusCompleted  = "completed"
	StatusError      = "error"
	StatusReset      = "reset"
)

// Document keys in the shared document table.
const (
	progressKey   = "backfill#progress"
	staleCheckKey = "backfill#stalecheck"
)

// Progress is the global backfill progress document. processed_count and
// last_cursor_id are monotonically non-decreasing for the lifetime of one
// run; only an explicit reset winds them back.
type Progress struct {
	Status         string    `json:"status"`
	Message        string    `json:"message,omitempty"`
	TotalCount     int64     `json:"total_count"`
	ProcessedCount int64     `json:"processed_count"`
	LastCursorID   int64     `json:"last_cursor_id"`
	LastCursorDate time.Time `json:"last_cursor_date,omitempty"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	LastError      string    `json:"last_error,omitempty"`
	NoProgressRuns int       `json:"no_progress_runs,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
}

// staleCheckMarker rate-limits the heartbeat inspection driven by page loads
// and status polling.
type staleCheckMarker struct {
	CheckedAt time.Time `json:"checked_at"`
}
