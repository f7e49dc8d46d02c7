package activity

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shoplytics/cartsync/internal/events"
	"github.com/shoplytics/cartsync/internal/kvstore"
)

// fakeDocs is an in-memory document store.
type fakeDocs struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: map[string][]byte{}}
}

func (f *fakeDocs) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[key]
	if !ok {
		return nil, nil
	}
	return doc, nil
}

func (f *fakeDocs) Set(ctx context.Context, key string, doc []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[key] = doc
	return nil
}

func (f *fakeDocs) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, key)
	return nil
}

func (f *fakeDocs) List(ctx context.Context, prefix string) ([]kvstore.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []kvstore.Entry
	for k, d := range f.docs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, kvstore.Entry{Key: k, Doc: d})
		}
	}
	return out, nil
}

func (f *fakeDocs) GetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	doc, _ := f.Get(ctx, key)
	if doc == nil {
		return false, nil
	}
	return true, json.Unmarshal(doc, out)
}

func (f *fakeDocs) SetJSON(ctx context.Context, key string, v interface{}) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.Set(ctx, key, doc)
}

func snapshot(items []events.Item) events.Snapshot {
	total := 0.0
	count := 0
	for _, it := range items {
		total += float64(it.Quantity) * it.Price
		count += it.Quantity
	}
	return events.Snapshot{Items: items, Total: total, Currency: "USD", ItemCount: count}
}

func TestEvaluate_BecameNewThenNoChange(t *testing.T) {
	s := NewStore(newFakeDocs())
	ctx := context.Background()
	snap := snapshot([]events.Item{{SKU: "A", Quantity: 1, Price: 10}})

	out, err := s.Evaluate(ctx, "user:1", "1", "", "", snap)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if out != BecameNew {
		t.Fatalf("expected became_new, got %s", out)
	}

	// byte-identical snapshot twice more: no_change both times
	for i := 0; i < 2; i++ {
		out, err = s.Evaluate(ctx, "user:1", "1", "", "", snap)
		if err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
		if out != NoChange {
			t.Fatalf("expected no_change on repeat %d, got %s", i, out)
		}
	}
}

func TestEvaluate_ContentChanged(t *testing.T) {
	s := NewStore(newFakeDocs())
	ctx := context.Background()

	if _, err := s.Evaluate(ctx, "user:1", "1", "", "", snapshot([]events.Item{{SKU: "A", Quantity: 1, Price: 10}})); err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	out, err := s.Evaluate(ctx, "user:1", "1", "", "", snapshot([]events.Item{{SKU: "A", Quantity: 2, Price: 10}}))
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if out != ContentChanged {
		t.Fatalf("expected content_changed, got %s", out)
	}

	rec, err := s.Get(ctx, "user:1")
	if err != nil || rec == nil {
		t.Fatalf("Get after change: rec=%v err=%v", rec, err)
	}
	if rec.Snapshot.Items[0].Quantity != 2 {
		t.Fatalf("stored snapshot not updated: %+v", rec.Snapshot)
	}
}

func TestEvaluate_BecameEmptyRemovesRecordAndMarkers(t *testing.T) {
	docs := newFakeDocs()
	s := NewStore(docs)
	ctx := context.Background()

	if _, err := s.Evaluate(ctx, "user:1", "1", "", "", snapshot([]events.Item{{SKU: "A", Quantity: 1, Price: 10}})); err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if err := s.MarkNotified(ctx, "user:1"); err != nil {
		t.Fatalf("MarkNotified error: %v", err)
	}

	out, err := s.Evaluate(ctx, "user:1", "1", "", "", snapshot(nil))
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if out != BecameEmpty {
		t.Fatalf("expected became_empty, got %s", out)
	}
	if rec, _ := s.Get(ctx, "user:1"); rec != nil {
		t.Fatalf("record not deleted: %+v", rec)
	}
	if notified, _ := s.WasNotified(ctx, "user:1"); notified {
		t.Fatalf("notified marker not deleted")
	}
}

func TestEvaluate_EmptyWithNoPriorIsNoChange(t *testing.T) {
	s := NewStore(newFakeDocs())
	out, err := s.Evaluate(context.Background(), "user:1", "1", "", "", snapshot(nil))
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if out != NoChange {
		t.Fatalf("expected no_change for empty snapshot with no record, got %s", out)
	}
}

func TestEvaluate_NoChangeRefreshesTimestamp(t *testing.T) {
	s := NewStore(newFakeDocs())
	ctx := context.Background()
	snap := snapshot([]events.Item{{SKU: "A", Quantity: 1, Price: 10}})

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return t0 }
	if _, err := s.Evaluate(ctx, "user:1", "1", "", "", snap); err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}

	s.nowFunc = func() time.Time { return t0.Add(30 * time.Minute) }
	if _, err := s.Evaluate(ctx, "user:1", "1", "", "", snap); err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	rec, _ := s.Get(ctx, "user:1")
	if !rec.LastActivity.Equal(t0.Add(30 * time.Minute)) {
		t.Fatalf("timestamp not refreshed: %v", rec.LastActivity)
	}
}

func TestResolveIdentity(t *testing.T) {
	if id := ResolveIdentity("u1", "s1"); id != "user:u1" {
		t.Fatalf("user id should win, got %s", id)
	}
	if id := ResolveIdentity("", "s1"); id != "session:s1" {
		t.Fatalf("expected session fallback, got %s", id)
	}
	a := ResolveIdentity("", "")
	b := ResolveIdentity("", "")
	if !strings.HasPrefix(a, "anon:") || a == b {
		t.Fatalf("expected distinct generated fallbacks, got %s and %s", a, b)
	}
}
