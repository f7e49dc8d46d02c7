package source

import (
	"context"
	"time"

	"github.com/shoplytics/cartsync/internal/events"
)

// Record kinds. Refund sub-records share the order id sequence but are never
// submitted on their own; the backfill cursor must still pass over them.
const (
	KindOrder  = "order"
	KindRefund = "refund"
)

// OrderRecord is one historical record as the backfill sees it.
type OrderRecord struct {
	OrderID    int64         `dynamodbav:"order_id"` // sort key, ascending
	ShopID     string        `dynamodbav:"shop_id"`  // partition key
	Kind       string        `dynamodbav:"kind"`
	CustomerID string        `dynamodbav:"customer_id,omitempty"`
	SessionID  string        `dynamodbav:"session_id,omitempty"`
	Status     string        `dynamodbav:"status"`
	Total      float64       `dynamodbav:"total"`
	Currency   string        `dynamodbav:"currency"`
	Items      []events.Item `dynamodbav:"items,omitempty"`
	CreatedAt  time.Time     `dynamodbav:"created_at"`
	SyncedAt   *time.Time    `dynamodbav:"synced_at,omitempty"`
}

// Filter narrows the backfill selection.
type Filter struct {
	CreatedAfter time.Time
}

// Historical is the data source contract the backfill walks. Query returns
// records in ascending order-id order, strictly after afterID, excluding
// records already carrying the synced marker.
type Historical interface {
	Query(ctx context.Context, f Filter, afterID int64, limit int32) ([]OrderRecord, error)
	Count(ctx context.Context, f Filter) (int64, error)
	Mark(ctx context.Context, rec OrderRecord) error
	Unmark(ctx context.Context, rec OrderRecord) error
}
