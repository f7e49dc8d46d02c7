package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/shoplytics/cartsync/internal/activity"
	"github.com/shoplytics/cartsync/internal/aws"
	"github.com/shoplytics/cartsync/internal/backfill"
	"github.com/shoplytics/cartsync/internal/debounce"
	"github.com/shoplytics/cartsync/internal/handlers"
	"github.com/shoplytics/cartsync/internal/kvstore"
	"github.com/shoplytics/cartsync/internal/metrics"
	"github.com/shoplytics/cartsync/internal/outbound"
	"github.com/shoplytics/cartsync/internal/scheduler"
	"github.com/shoplytics/cartsync/internal/source"
	"github.com/shoplytics/cartsync/internal/submit"
	"github.com/shoplytics/cartsync/internal/token"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, cfg)

	return r
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

func main() {
	clients, err := aws.NewClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	apiURL := os.Getenv("ANALYTICS_API_URL")
	apiKey := os.Getenv("ANALYTICS_API_KEY")
	disabled := apiURL == "" || apiKey == ""
	if disabled {
		log.Printf("ANALYTICS_API_URL/ANALYTICS_API_KEY not set, outbound submission disabled")
	}

	tokens, err := token.NewCodec(os.Getenv("TOKEN_SECRET"))
	if err != nil {
		log.Fatalf("failed to init token codec: %v", err)
	}

	kv := kvstore.NewStore(clients.DynamoDB, os.Getenv("DOCS_TABLE"))
	rec := metrics.NewRecorder(clients.CloudWatch, "CartSync")
	sched := scheduler.NewScheduler(clients.DynamoDB, aws.NewPublisher(clients.SQS, os.Getenv("TASK_QUEUE_URL")), os.Getenv("TASKS_TABLE"))
	src := source.NewStore(clients.DynamoDB, os.Getenv("ORDERS_TABLE"), os.Getenv("SHOP_ID"))
	api := outbound.NewHTTPClient(apiURL, apiKey, nil)
	sub := submit.NewSubmitter(api, src, rec)
	acts := activity.NewStore(kv)

	engine := backfill.NewEngine(kv, src, sub, sched, rec, backfill.Config{
		Cutoff:   backfillCutoff(),
		Disabled: disabled,
	})

	cfg := handlers.HandlerConfig{
		Coalescer: debounce.NewCoalescer(sched, rec, debounce.DefaultQuietWindow),
		Activity:  acts,
		Submitter: sub,
		Engine:    engine,
		Tokens:    tokens,
	}

	r := setupRouter(cfg)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
		log.Printf("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req awsevents.APIGatewayProxyRequest) (interface{}, error) {
		// the adapter handles proxying; use adapter.ProxyWithContext for proper context propagation
		return adapter.ProxyWithContext(ctx, req)
	})
}
