package submit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shoplytics/cartsync/internal/events"
	"github.com/shoplytics/cartsync/internal/metrics"
	"github.com/shoplytics/cartsync/internal/outbound"
	"github.com/shoplytics/cartsync/internal/source"
)

// Submitter sends events to the analytics backend and owns the synced-marker
// bookkeeping for bulk submissions.
type Submitter struct {
	api     outbound.Client
	src     source.Historical
	rec     *metrics.Recorder
	nowFunc func() time.Time
}

// NewSubmitter returns a Submitter. src may be nil when only live events are
// submitted.
func NewSubmitter(api outbound.Client, src source.Historical, rec *metrics.Recorder) *Submitter {
	return &Submitter{
		api:     api,
		src:     src,
		rec:     rec,
		nowFunc: time.Now,
	}
}

// SubmitEvent sends one live event. Identity fields and the content hash are
// already on the payload so the backend can deduplicate as a second line of
// defense.
func (s *Submitter) SubmitEvent(ctx context.Context, payload events.Payload) error {
	if err := s.api.PostEvent(ctx, payload); err != nil {
		return fmt.Errorf("post %s: %w", payload.Type, err)
	}
	s.rec.Count(ctx, metrics.MetricEventsEmitted, 1, payload.Type)
	return nil
}

// SubmitBatch sends records as one bulk call and, only on success, sets every
// record's synced marker. On any transport or server error nothing is marked:
// the next invocation's cursor refetch naturally retries the same range.
func (s *Submitter) SubmitBatch(ctx context.Context, records []source.OrderRecord) error {
	if len(records) == 0 {
		return nil
	}
	payloads := make([]events.Payload, 0, len(records))
	for _, rec := range records {
		payloads = append(payloads, s.orderPayload(rec))
	}
	if err := s.api.PostBulk(ctx, payloads); err != nil {
		return fmt.Errorf("post bulk of %d: %w", len(records), err)
	}
	for _, rec := range records {
		if err := s.src.Mark(ctx, rec); err != nil {
			// the record was accepted upstream; a failed marker means it may
			// be re-sent later, which the backend's hash dedup absorbs
			log.Printf("[submit] mark synced order=%d: %v", rec.OrderID, err)
		}
	}
	s.rec.Count(ctx, metrics.MetricEventsEmitted, float64(len(records)), events.TypeOrderCompleted)
	return nil
}

// orderPayload shapes a historical record like a live order_completed event.
func (s *Submitter) orderPayload(rec source.OrderRecord) events.Payload {
	snap := events.Snapshot{
		Items:     rec.Items,
		Total:     rec.Total,
		Currency:  rec.Currency,
		ItemCount: itemCount(rec.Items),
	}
	identity := resolveRecordIdentity(rec)
	p := events.NewPayload(events.TypeOrderCompleted, identity, rec.CustomerID, rec.SessionID, snap, s.nowFunc())
	p.Timestamp = rec.CreatedAt.UTC()
	return p
}

func resolveRecordIdentity(rec source.OrderRecord) string {
	if rec.CustomerID != "" {
		return "user:" + rec.CustomerID
	}
	if rec.SessionID != "" {
		return "session:" + rec.SessionID
	}
	return fmt.Sprintf("order:%d", rec.OrderID)
}

func itemCount(items []events.Item) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}
