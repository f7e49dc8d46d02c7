package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	awsevents "github.com/aws/aws-lambda-go/events"

	"github.com/shoplytics/cartsync/internal/activity"
	"github.com/shoplytics/cartsync/internal/backfill"
	"github.com/shoplytics/cartsync/internal/debounce"
	"github.com/shoplytics/cartsync/internal/events"
	"github.com/shoplytics/cartsync/internal/scheduler"
	"github.com/shoplytics/cartsync/internal/submit"
	"github.com/shoplytics/cartsync/internal/sweep"
)

// Processor receives task deliveries from SQS and dispatches them to the
// engine components.
type Processor struct {
	sched   scheduler.API
	acts    *activity.Store
	sub     *submit.Submitter
	scanner *sweep.Scanner
	engine  *backfill.Engine
	nowFunc func() time.Time
}

// NewProcessor creates a worker processor with its collaborators injected.
func NewProcessor(sched scheduler.API, acts *activity.Store, sub *submit.Submitter, scanner *sweep.Scanner, engine *backfill.Engine) *Processor {
	return &Processor{
		sched:   sched,
		acts:    acts,
		sub:     sub,
		scanner: scanner,
		engine:  engine,
		nowFunc: time.Now,
	}
}

// taskRetryDelay spaces out the replacement task for a claimed delivery
// whose work failed. Queue redelivery cannot retry those: the registry row
// is already consumed.
const taskRetryDelay = 30 * time.Second

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev awsevents.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: the runtime redelivers. This path is only
			// reached before the registry claim (or when requeueing a
			// failed task itself failed), so redelivery still has a row
			// to claim.
			log.Printf("worker error: %v", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec awsevents.SQSMessage) error {
	var msg scheduler.Message
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		// structurally broken message: drop, retrying cannot succeed
		log.Printf("[worker] dropping malformed message body: %v, body: %s", err, rec.Body)
		return nil
	}

	task, err := p.sched.Claim(ctx, msg.TaskID)
	if err != nil {
		return fmt.Errorf("claim task %s: %w", msg.TaskID, err)
	}
	if task == nil {
		// cancelled ticket or duplicate delivery
		log.Printf("[worker] task %s (%s) already cancelled or claimed", msg.TaskID, msg.Hook)
		return nil
	}

	log.Printf("[worker] running hook=%s task=%s", task.Hook, task.TaskID)
	if err := p.runTask(ctx, task); err != nil {
		// the claim already consumed the registry row, so a queue
		// redelivery would no-op; re-register the task instead
		log.Printf("[worker] task %s (%s) failed, requeueing: %v", task.TaskID, task.Hook, err)
		if _, rerr := p.sched.ScheduleOnce(ctx, task.Hook, taskRetryDelay, task.Args); rerr != nil {
			return fmt.Errorf("requeue failed task %s: %w", task.TaskID, rerr)
		}
	}
	return nil
}

func (p *Processor) runTask(ctx context.Context, task *scheduler.Task) error {
	switch task.Hook {
	case scheduler.HookCartDebounce:
		return p.runDebounceTicket(ctx, task)
	case scheduler.HookAbandonmentSweep:
		return p.runSweep(ctx, task)
	case scheduler.HookBackfillContinue:
		return p.engine.RunOnce(ctx)
	default:
		log.Printf("[worker] unknown hook %s, dropping", task.Hook)
		return nil
	}
}

// runDebounceTicket performs the delayed evaluation of one coalesced cart
// snapshot and emits cart_updated when the content really changed.
func (p *Processor) runDebounceTicket(ctx context.Context, task *scheduler.Task) error {
	identity, userID, sessionID, email, snap, err := debounce.DecodeTicket(task)
	if err != nil {
		// malformed ticket: drop, never retried
		log.Printf("[worker] dropping broken debounce ticket %s: %v", task.TaskID, err)
		return nil
	}

	outcome, err := p.acts.Evaluate(ctx, identity, userID, sessionID, email, snap)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", identity, err)
	}

	switch outcome {
	case activity.BecameNew, activity.ContentChanged:
		payload := events.NewPayload(events.TypeCartUpdated, identity, userID, sessionID, snap, p.nowFunc())
		if err := p.sub.SubmitEvent(ctx, payload); err != nil {
			return fmt.Errorf("submit cart_updated for %s: %w", identity, err)
		}
	case activity.NoChange, activity.BecameEmpty:
		// keepalive or cleared cart: record state is already settled,
		// nothing to emit
	}
	return nil
}

// runSweep executes the recurring abandonment sweep. The next link of the
// chain is registered before any sweep work runs: a failed sweep must cost
// one interval, never the whole recurrence. The IsScheduled guard keeps a
// requeued retry from spawning a second chain.
func (p *Processor) runSweep(ctx context.Context, task *scheduler.Task) error {
	pending, err := p.sched.IsScheduled(ctx, scheduler.HookAbandonmentSweep)
	if err != nil {
		return fmt.Errorf("check sweep chain: %w", err)
	}
	if !pending {
		interval := time.Duration(task.Interval) * time.Second
		if interval <= 0 {
			interval = sweep.DefaultInterval
		}
		if _, err := p.sched.ScheduleRecurring(ctx, scheduler.HookAbandonmentSweep, interval, nil); err != nil {
			return fmt.Errorf("reschedule sweep: %w", err)
		}
	}
	if err := p.scanner.Sweep(ctx); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return nil
}
