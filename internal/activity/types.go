package activity

import (
	"time"

	"github.com/shoplytics/cartsync/internal/events"
)

// Record is the per-identity activity document. At most one exists per
// identity; it is removed when the cart empties or converts to an order.
type Record struct {
	Identity             string          `json:"identity"`
	UserID               string          `json:"user_id,omitempty"`
	SessionID            string          `json:"session_id,omitempty"`
	Email                string          `json:"email,omitempty"`
	LastActivity         time.Time       `json:"last_activity"`
	Snapshot             events.Snapshot `json:"snapshot"`
	ContentHash          string          `json:"content_hash"`
	AbandonmentEventSent bool            `json:"abandonment_event_sent"`
	IsEmpty              bool            `json:"is_empty"`
}

// Outcome classifies one coalesced snapshot against the stored record.
type Outcome int

const (
	// NoChange: identical items, total and count; only the activity
	// timestamp was refreshed, no event should be emitted.
	NoChange Outcome = iota
	// BecameNew: no prior record existed.
	BecameNew
	// ContentChanged: items, total or count differ from the stored record.
	ContentChanged
	// BecameEmpty: new snapshot is empty while the prior was not; the
	// record and its dedup markers were deleted.
	BecameEmpty
)

func (o Outcome) String() string {
	switch o {
	case NoChange:
		return "no_change"
	case BecameNew:
		return "became_new"
	case ContentChanged:
		return "content_changed"
	case BecameEmpty:
		return "became_empty"
	default:
		return "unknown"
	}
}
