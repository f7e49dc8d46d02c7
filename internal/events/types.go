package events

import "time"

// Event types emitted to the analytics backend.
const (
	TypeCartUpdated         = "cart_updated"
	TypeCartAbandoned       = "cart_abandoned"
	TypeCheckoutStarted     = "checkout_started"
	TypeCartRecoveryClicked = "cart_recovery_clicked"
	TypeCartRestored        = "cart_restored"
	TypeOrderCompleted      = "order_completed"
	TypeRecoveryEmailSent   = "recovery_email_sent"
)

// Item is a single cart or order line item.
type Item struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name,omitempty"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Snapshot is the observed state of a cart at one mutation signal.
type Snapshot struct {
	Items     []Item  `json:"items"`
	Total     float64 `json:"total"`
	Currency  string  `json:"currency"`
	ItemCount int     `json:"item_count"`
}

// IsEmpty reports whether the snapshot carries no items.
func (s Snapshot) IsEmpty() bool {
	return len(s.Items) == 0
}

// Payload is the outbound event shape. Identity fields and the content hash
// are always attached so the backend can deduplicate on its side.
type Payload struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	UserID      string    `json:"user_id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Identity    string    `json:"identity"`
	Items       []Item    `json:"items"`
	Total       float64   `json:"total"`
	Currency    string    `json:"currency"`
	ItemCount   int       `json:"item_count"`
	ContentHash string    `json:"content_hash"`
	Timestamp   time.Time `json:"timestamp"`
}
