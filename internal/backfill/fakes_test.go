package backfill

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shoplytics/cartsync/internal/events"
	"github.com/shoplytics/cartsync/internal/kvstore"
	"github.com/shoplytics/cartsync/internal/scheduler"
	"github.com/shoplytics/cartsync/internal/source"
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

// fakeSched is an in-memory scheduler registry. Nothing is delivered; tests
// drive RunOnce by hand and inspect/drain the pending set.
type fakeSched struct {
	mu    sync.Mutex
	tasks map[string]scheduler.Task
}

func newFakeSched() *fakeSched {
	return &fakeSched{tasks: map[string]scheduler.Task{}}
}

func (f *fakeSched) ScheduleOnce(ctx context.Context, hook string, delay time.Duration, args map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.tasks[id] = scheduler.Task{TaskID: id, Hook: hook, Args: args}
	return id, nil
}

func (f *fakeSched) ScheduleRecurring(ctx context.Context, hook string, interval time.Duration, args map[string]string) (string, error) {
	return f.ScheduleOnce(ctx, hook, interval, args)
}

func (f *fakeSched) ListPending(ctx context.Context, hook string) ([]scheduler.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []scheduler.Task
	for _, t := range f.tasks {
		if t.Hook == hook {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeSched) Cancel(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, taskID)
	return nil
}

func (f *fakeSched) IsScheduled(ctx context.Context, hook string) (bool, error) {
	tasks, _ := f.ListPending(ctx, hook)
	return len(tasks) > 0, nil
}

func (f *fakeSched) Claim(ctx context.Context, taskID string) (*scheduler.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, nil
	}
	delete(f.tasks, taskID)
	return &t, nil
}

// drain removes all pending tasks for hook, simulating their delivery.
func (f *fakeSched) drain(hook string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, t := range f.tasks {
		if t.Hook == hook {
			delete(f.tasks, id)
			n++
		}
	}
	return n
}

// fakeHistory is a finite historical data source with per-record markers.
type fakeHistory struct {
	mu      sync.Mutex
	records []source.OrderRecord
	marked  map[int64]bool

	countCalls int
	queryCalls int
	markCalls  int
}

func newFakeHistory(recs []source.OrderRecord) *fakeHistory {
	return &fakeHistory{records: recs, marked: map[int64]bool{}}
}

func (f *fakeHistory) Query(ctx context.Context, fl source.Filter, afterID int64, limit int32) ([]source.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	var out []source.OrderRecord
	sorted := append([]source.OrderRecord(nil), f.records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OrderID < sorted[j].OrderID })
	for _, r := range sorted {
		if r.OrderID <= afterID || f.marked[r.OrderID] || !r.CreatedAt.After(fl.CreatedAfter) {
			continue
		}
		out = append(out, r)
		if int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeHistory) Count(ctx context.Context, fl source.Filter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	var n int64
	for _, r := range f.records {
		if !f.marked[r.OrderID] && r.CreatedAt.After(fl.CreatedAfter) {
			n++
		}
	}
	return n, nil
}

func (f *fakeHistory) Mark(ctx context.Context, rec source.OrderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls++
	f.marked[rec.OrderID] = true
	return nil
}

func (f *fakeHistory) Unmark(ctx context.Context, rec source.OrderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.marked, rec.OrderID)
	return nil
}

// fakeBatchSubmitter marks submitted records like the real submitter and can
// be told to fail.
type fakeBatchSubmitter struct {
	mu        sync.Mutex
	src       *fakeHistory
	submitted [][]int64
	failErr   error
}

func (f *fakeBatchSubmitter) SubmitBatch(ctx context.Context, records []source.OrderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	var ids []int64
	for _, r := range records {
		ids = append(ids, r.OrderID)
		if f.src != nil {
			_ = f.src.Mark(ctx, r)
		}
	}
	f.submitted = append(f.submitted, ids)
	return nil
}

func makeHistory(n int) []source.OrderRecord {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := make([]source.OrderRecord, 0, n)
	for i := 1; i <= n; i++ {
		recs = append(recs, source.OrderRecord{
			OrderID:    int64(i),
			ShopID:     "shop-1",
			Kind:       source.KindOrder,
			CustomerID: "c1",
			Status:     "completed",
			Total:      10,
			Currency:   "USD",
			Items:      []events.Item{{SKU: "A", Quantity: 1, Price: 10}},
			CreatedAt:  created.Add(time.Duration(i) * time.Minute),
		})
	}
	return recs
}
