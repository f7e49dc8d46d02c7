package debounce

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shoplytics/cartsync/internal/activity"
	"github.com/shoplytics/cartsync/internal/events"
	"github.com/shoplytics/cartsync/internal/metrics"
	"github.com/shoplytics/cartsync/internal/scheduler"
)

// Ticket argument keys on a scheduled debounce task.
const (
	ArgIdentity  = "identity"
	ArgUserID    = "user_id"
	ArgSessionID = "session_id"
	ArgEmail     = "email"
	ArgSnapshot  = "snapshot"
)

// DefaultQuietWindow is the coalescing delay after the last mutation signal.
const DefaultQuietWindow = 7 * time.Second

// Coalescer collapses bursts of mutation signals into one delayed
// evaluation per identity.
type Coalescer struct {
	sched scheduler.API
	rec   *metrics.Recorder
	quiet time.Duration
}

// NewCoalescer returns a Coalescer with the given quiet window; zero means
// DefaultQuietWindow.
func NewCoalescer(sched scheduler.API, rec *metrics.Recorder, quiet time.Duration) *Coalescer {
	if quiet <= 0 {
		quiet = DefaultQuietWindow
	}
	return &Coalescer{
		sched: sched,
		rec:   rec,
		quiet: quiet,
	}
}

// Touch registers a raw mutation signal. Any still-pending ticket for the
// same identity is cancelled before the replacement is scheduled, so a burst
// of N touches within the quiet window yields one downstream evaluation
// carrying the last snapshot. The ticket embeds the serialized snapshot: by
// the time it runs, the live cart may have changed again.
func (c *Coalescer) Touch(ctx context.Context, userID, sessionID, email string, snap events.Snapshot) (string, error) {
	identity := activity.ResolveIdentity(userID, sessionID)

	raw, err := json.Marshal(snap)
	if err != nil {
		// fail closed: a ticket with a corrupt snapshot would poison the
		// downstream record
		log.Printf("[debounce] dropping touch for %s, snapshot serialization failed: %v", identity, err)
		c.rec.Count(ctx, metrics.MetricTouchesDropped, 1, "")
		return identity, nil
	}

	pending, err := c.sched.ListPending(ctx, scheduler.HookCartDebounce)
	if err != nil {
		return identity, fmt.Errorf("list pending tickets: %w", err)
	}
	for _, t := range pending {
		if t.Args[ArgIdentity] != identity {
			continue
		}
		if err := c.sched.Cancel(ctx, t.TaskID); err != nil {
			return identity, fmt.Errorf("cancel stale ticket: %w", err)
		}
	}

	args := map[string]string{
		ArgIdentity:  identity,
		ArgUserID:    userID,
		ArgSessionID: sessionID,
		ArgSnapshot:  string(raw),
	}
	if email != "" {
		args[ArgEmail] = email
	}
	if _, err := c.sched.ScheduleOnce(ctx, scheduler.HookCartDebounce, c.quiet, args); err != nil {
		return identity, fmt.Errorf("schedule ticket: %w", err)
	}
	return identity, nil
}

// DecodeTicket extracts the snapshot from a claimed debounce task.
func DecodeTicket(task *scheduler.Task) (identity, userID, sessionID, email string, snap events.Snapshot, err error) {
	identity = task.Args[ArgIdentity]
	userID = task.Args[ArgUserID]
	sessionID = task.Args[ArgSessionID]
	email = task.Args[ArgEmail]
	if identity == "" {
		err = fmt.Errorf("ticket has no identity")
		return
	}
	if uerr := json.Unmarshal([]byte(task.Args[ArgSnapshot]), &snap); uerr != nil {
		err = fmt.Errorf("ticket snapshot: %w", uerr)
		return
	}
	return
}
