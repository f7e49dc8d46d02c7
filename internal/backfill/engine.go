package backfill

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shoplytics/cartsync/internal/kvstore"
	"github.com/shoplytics/cartsync/internal/metrics"
	"github.com/shoplytics/cartsync/internal/scheduler"
	"github.com/shoplytics/cartsync/internal/source"
)

// BatchSubmitter is the slice of the submitter the engine needs.
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, records []source.OrderRecord) error
}

// Config tunes one engine instance.
type Config struct {
	BatchSize         int32
	Cutoff            time.Time     // only records created after this are synced
	ContinuationDelay time.Duration // gap between self-scheduled invocations
	StaleAfter        time.Duration // heartbeat age that flags a stall
	StaleCheckEvery   time.Duration // rate limit for CheckStale callers
	RetryBudget       int           // consecutive no-progress runs before forcing completion
	Disabled          bool          // set when outbound credentials are missing
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.ContinuationDelay <= 0 {
		c.ContinuationDelay = 5 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.StaleCheckEvery <= 0 {
		c.StaleCheckEvery = time.Minute
	}
	if c.RetryBudget <= 0 {
		c.RetryBudget = 3
	}
	return c
}

// Engine is the resumable backfill state machine. RunOnce is safe to invoke
// repeatedly from the scheduler, an inbound request or the failsafe stale
// check; each invocation performs at most one bounded batch of work.
type Engine struct {
	kv      kvstore.API
	src     source.Historical
	sub     BatchSubmitter
	sched   scheduler.API
	rec     *metrics.Recorder
	cfg     Config
	nowFunc func() time.Time

	disabledOnce sync.Once
}

// NewEngine wires an Engine.
func NewEngine(kv kvstore.API, src source.Historical, sub BatchSubmitter, sched scheduler.API, rec *metrics.Recorder, cfg Config) *Engine {
	return &Engine{
		kv:      kv,
		src:     src,
		sub:     sub,
		sched:   sched,
		rec:     rec,
		cfg:     cfg.withDefaults(),
		nowFunc: time.Now,
	}
}

func (e *Engine) enabled() bool {
	if !e.cfg.Disabled {
		return true
	}
	e.disabledOnce.Do(func() {
		log.Printf("[backfill] outbound credentials missing, engine disabled")
	})
	return false
}

func (e *Engine) filter() source.Filter {
	return source.Filter{CreatedAfter: e.cfg.Cutoff}
}

func (e *Engine) loadProgress(ctx context.Context) (*Progress, error) {
	var p Progress
	found, err := e.kv.GetJSON(ctx, progressKey, &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return &Progress{Status: StatusIdle}, nil
	}
	return &p, nil
}

func (e *Engine) saveProgress(ctx context.Context, p *Progress) error {
	return e.kv.SetJSON(ctx, progressKey, p)
}

// Start begins a fresh run. Any pending continuations from a previous run are
// force-cancelled first; this is a best-effort guard, so the submission step
// stays idempotent to absorb an occasional duplicate runner.
func (e *Engine) Start(ctx context.Context) error {
	if !e.enabled() {
		return nil
	}
	if err := e.cancelContinuations(ctx); err != nil {
		return err
	}
	now := e.nowFunc().UTC()
	p := &Progress{
		Status:        StatusStarting,
		Message:       "counting records",
		StartedAt:     now,
		LastHeartbeat: now,
	}
	if err := e.saveProgress(ctx, p); err != nil {
		return err
	}
	if _, err := e.sched.ScheduleOnce(ctx, scheduler.HookBackfillContinue, 0, nil); err != nil {
		return fmt.Errorf("schedule first batch: %w", err)
	}
	return nil
}

// Reset force-clears scheduler state and parks the progress document in the
// reset state. A subsequent Start reinitializes from a fresh count.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.cancelContinuations(ctx); err != nil {
		return err
	}
	now := e.nowFunc().UTC()
	return e.saveProgress(ctx, &Progress{
		Status:        StatusReset,
		Message:       "reset by operator",
		LastHeartbeat: now,
	})
}

func (e *Engine) cancelContinuations(ctx context.Context) error {
	tasks, err := e.sched.ListPending(ctx, scheduler.HookBackfillContinue)
	if err != nil {
		return fmt.Errorf("list continuations: %w", err)
	}
	for _, t := range tasks {
		if err := e.sched.Cancel(ctx, t.TaskID); err != nil {
			return fmt.Errorf("cancel continuation: %w", err)
		}
	}
	return nil
}

// RunOnce performs one bounded batch and either schedules its continuation or
// lands in a terminal state. Re-running after completion mutates nothing.
func (e *Engine) RunOnce(ctx context.Context) error {
	if !e.enabled() {
		return nil
	}
	p, err := e.loadProgress(ctx)
	if err != nil {
		return err
	}

	switch p.Status {
	case StatusIdle, StatusCompleted, StatusError, StatusReset:
		// nothing running; only an explicit Start moves out of these
		return nil
	}
	now := e.nowFunc().UTC()

	if p.Status == StatusStarting || p.TotalCount == 0 {
		total, err := e.src.Count(ctx, e.filter())
		if err != nil {
			return e.retryLater(ctx, p, fmt.Errorf("count records: %w", err))
		}
		p.TotalCount = total
		if total == 0 {
			return e.complete(ctx, p, "no records to sync")
		}
	}
	p.Status = StatusInProgress

	batch, err := e.src.Query(ctx, e.filter(), p.LastCursorID, e.cfg.BatchSize)
	if err != nil {
		return e.retryLater(ctx, p, fmt.Errorf("fetch batch: %w", err))
	}
	if len(batch) == 0 {
		return e.complete(ctx, p, "no records remaining")
	}

	// The cursor advances over every record in the batch, including refund
	// sub-records that are filtered out of the submission; otherwise the
	// loop never terminates.
	cursorID := p.LastCursorID
	cursorDate := p.LastCursorDate
	var toSubmit []source.OrderRecord
	for _, rec := range batch {
		cursorID = rec.OrderID
		cursorDate = rec.CreatedAt
		if rec.Kind == source.KindRefund {
			continue
		}
		toSubmit = append(toSubmit, rec)
	}

	if err := e.sub.SubmitBatch(ctx, toSubmit); err != nil {
		// cursor stays put: the next invocation refetches the same range
		return e.retryLater(ctx, p, err)
	}

	p.LastCursorID = cursorID
	p.LastCursorDate = cursorDate
	p.ProcessedCount += int64(len(toSubmit))
	p.LastHeartbeat = now
	p.LastError = ""
	p.NoProgressRuns = 0
	e.rec.Count(ctx, metrics.MetricBackfillBatches, 1, "")

	if p.ProcessedCount >= p.TotalCount {
		return e.complete(ctx, p, "all records synced")
	}
	p.Message = fmt.Sprintf("synced %d of %d", p.ProcessedCount, p.TotalCount)
	if err := e.saveProgress(ctx, p); err != nil {
		return err
	}
	return e.ensureContinuation(ctx)
}

// retryLater records a failed invocation. After the retry budget is exhausted
// it re-derives the remaining count and forces completion instead of looping
// forever, trading strict accounting for forward progress.
func (e *Engine) retryLater(ctx context.Context, p *Progress, cause error) error {
	log.Printf("[backfill] batch failed: %v", cause)
	p.LastError = cause.Error()
	p.LastHeartbeat = e.nowFunc().UTC()
	p.NoProgressRuns++

	if p.NoProgressRuns >= e.cfg.RetryBudget {
		if remaining, err := e.src.Count(ctx, e.filter()); err == nil {
			p.TotalCount = p.ProcessedCount + remaining
			if remaining == 0 {
				return e.complete(ctx, p, "no records remaining")
			}
		}
		return e.complete(ctx, p, fmt.Sprintf("forced after %d runs without progress", p.NoProgressRuns))
	}

	p.Message = "batch failed, will retry"
	if err := e.saveProgress(ctx, p); err != nil {
		return err
	}
	return e.ensureContinuation(ctx)
}

func (e *Engine) complete(ctx context.Context, p *Progress, msg string) error {
	p.Status = StatusCompleted
	p.Message = msg
	p.LastHeartbeat = e.nowFunc().UTC()
	return e.saveProgress(ctx, p)
}

// ensureContinuation schedules the next invocation unless one is already
// pending, which keeps duplicate deliveries from fanning out into unbounded
// loops.
func (e *Engine) ensureContinuation(ctx context.Context) error {
	scheduled, err := e.sched.IsScheduled(ctx, scheduler.HookBackfillContinue)
	if err != nil {
		return fmt.Errorf("check continuation: %w", err)
	}
	if scheduled {
		return nil
	}
	if _, err := e.sched.ScheduleOnce(ctx, scheduler.HookBackfillContinue, e.cfg.ContinuationDelay, nil); err != nil {
		return fmt.Errorf("schedule continuation: %w", err)
	}
	return nil
}

// CheckStale is the failsafe for a scheduler that silently dropped a
// continuation. It is rate-limited so page-load hooks can call it freely;
// beyond the heartbeat threshold it marks the run stalled and re-invokes
// RunOnce directly when no continuation is pending.
func (e *Engine) CheckStale(ctx context.Context) error {
	if !e.enabled() {
		return nil
	}
	now := e.nowFunc().UTC()

	var marker staleCheckMarker
	found, err := e.kv.GetJSON(ctx, staleCheckKey, &marker)
	if err != nil {
		return err
	}
	if found && now.Sub(marker.CheckedAt) < e.cfg.StaleCheckEvery {
		return nil
	}
	if err := e.kv.SetJSON(ctx, staleCheckKey, staleCheckMarker{CheckedAt: now}); err != nil {
		return err
	}

	p, err := e.loadProgress(ctx)
	if err != nil {
		return err
	}
	switch p.Status {
	case StatusStarting, StatusInProgress, StatusStalled:
		// starting counts too: Start sets the heartbeat and leans on one
		// scheduled continuation to reach in_progress, and that first
		// delivery can be dropped like any other
	default:
		return nil
	}
	if now.Sub(p.LastHeartbeat) <= e.cfg.StaleAfter {
		return nil
	}

	if p.Status != StatusStalled {
		p.Status = StatusStalled
		p.Message = "no heartbeat, resuming"
		if err := e.saveProgress(ctx, p); err != nil {
			return err
		}
		e.rec.Count(ctx, metrics.MetricBackfillStalls, 1, "")
		log.Printf("[backfill] stalled: heartbeat %s old", now.Sub(p.LastHeartbeat))
	}

	scheduled, err := e.sched.IsScheduled(ctx, scheduler.HookBackfillContinue)
	if err != nil {
		return err
	}
	if scheduled {
		return nil
	}
	return e.RunOnce(ctx)
}

// Status returns the progress document with staleness recomputed on read.
// The stored document is not mutated here.
func (e *Engine) Status(ctx context.Context) (*Progress, error) {
	p, err := e.loadProgress(ctx)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusInProgress && e.nowFunc().UTC().Sub(p.LastHeartbeat) > e.cfg.StaleAfter {
		p.Status = StatusStalled
		p.Message = "no recent heartbeat"
	}
	return p, nil
}
