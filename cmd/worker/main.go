package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/shoplytics/cartsync/internal/activity"
	"github.com/shoplytics/cartsync/internal/aws"
	"github.com/shoplytics/cartsync/internal/backfill"
	"github.com/shoplytics/cartsync/internal/kvstore"
	"github.com/shoplytics/cartsync/internal/metrics"
	"github.com/shoplytics/cartsync/internal/notify"
	"github.com/shoplytics/cartsync/internal/outbound"
	"github.com/shoplytics/cartsync/internal/scheduler"
	"github.com/shoplytics/cartsync/internal/source"
	"github.com/shoplytics/cartsync/internal/submit"
	"github.com/shoplytics/cartsync/internal/sweep"
	"github.com/shoplytics/cartsync/internal/token"
)

func buildProcessor(ctx context.Context) (*Processor, scheduler.API, error) {
	clients, err := aws.NewClients(ctx)
	if err != nil {
		return nil, nil, err
	}

	apiURL := os.Getenv("ANALYTICS_API_URL")
	apiKey := os.Getenv("ANALYTICS_API_KEY")
	disabled := apiURL == "" || apiKey == ""
	if disabled {
		log.Printf("ANALYTICS_API_URL/ANALYTICS_API_KEY not set, outbound submission disabled")
	}

	tokens, err := token.NewCodec(os.Getenv("TOKEN_SECRET"))
	if err != nil {
		return nil, nil, err
	}

	kv := kvstore.NewStore(clients.DynamoDB, os.Getenv("DOCS_TABLE"))
	rec := metrics.NewRecorder(clients.CloudWatch, "CartSync")
	sched := scheduler.NewScheduler(clients.DynamoDB, aws.NewPublisher(clients.SQS, os.Getenv("TASK_QUEUE_URL")), os.Getenv("TASKS_TABLE"))
	src := source.NewStore(clients.DynamoDB, os.Getenv("ORDERS_TABLE"), os.Getenv("SHOP_ID"))
	api := outbound.NewHTTPClient(apiURL, apiKey, nil)
	sub := submit.NewSubmitter(api, src, rec)
	acts := activity.NewStore(kv)

	var sender notify.Sender = notify.LogSender{}
	if addr := os.Getenv("SMTP_ADDR"); addr != "" {
		sender = notify.NewSMTPSender(addr, os.Getenv("SMTP_FROM"), os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"))
	}

	scanner := sweep.NewScanner(acts, sub, tokens, sender, rec, sweep.Config{
		NotifyEnabled:   os.Getenv("RECOVERY_EMAILS_ENABLED") == "true",
		RecoveryBaseURL: os.Getenv("RECOVERY_BASE_URL"),
	})

	engine := backfill.NewEngine(kv, src, sub, sched, rec, backfill.Config{
		Cutoff:   backfillCutoff(),
		Disabled: disabled,
	})

	return NewProcessor(sched, acts, sub, scanner, engine), sched, nil
}

// backfillCutoff reads BACKFILL_CUTOFF (RFC 3339) or defaults to three months
// back, bounding how far historical sync reaches.
func backfillCutoff() time.Time {
	if raw := os.Getenv("BACKFILL_CUTOFF"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			log.Fatalf("invalid BACKFILL_CUTOFF %q: %v", raw, err)
		}
		return t
	}
	return time.Now().AddDate(0, -3, 0)
}

// ensureSweep registers the recurring abandonment sweep on cold start when no
// delivery is already pending. A race between two cold starts at worst doubles
// one sweep, and the notified markers keep that harmless.
func ensureSweep(ctx context.Context, sched scheduler.API) {
	pending, err := sched.IsScheduled(ctx, scheduler.HookAbandonmentSweep)
	if err != nil {
		log.Printf("[worker] sweep registration check failed: %v", err)
		return
	}
	if pending {
		return
	}
	if _, err := sched.ScheduleRecurring(ctx, scheduler.HookAbandonmentSweep, sweep.DefaultInterval, nil); err != nil {
		log.Printf("[worker] failed to register sweep: %v", err)
	}
}

func main() {
	ctx := context.Background()
	proc, sched, err := buildProcessor(ctx)
	if err != nil {
		log.Fatalf("failed to init worker: %v", err)
	}
	ensureSweep(ctx, sched)

	// If RUN_LOCAL=true, simulate a single SQS delivery for local testing.
	if os.Getenv("RUN_LOCAL") == "true" {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			body, _ := json.Marshal(scheduler.Message{TaskID: "local-task-1", Hook: scheduler.HookAbandonmentSweep})
			testBody = string(body)
		}
		event := awsevents.SQSEvent{
			Records: []awsevents.SQSMessage{
				{
					Body: testBody,
				},
			},
		}
		if err := proc.Handle(ctx, event); err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		return
	}

	lambda.Start(proc.Handle)
}
