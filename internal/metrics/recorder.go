package metrics

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shoplytics/cartsync/internal/aws"
)

// Metric names emitted by the engine.
const (
	MetricEventsEmitted   = "EventsEmitted"
	MetricTouchesDropped  = "TouchesDropped"
	MetricBackfillBatches = "BackfillBatches"
	MetricBackfillStalls  = "BackfillStalls"
	MetricSweepAbandoned  = "SweepAbandoned"
)

// Recorder publishes operational counters to CloudWatch. Counting is
// best-effort: failures are logged and never propagated to callers.
type Recorder struct {
	client    aws.CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewRecorder returns a Recorder publishing under namespace. A nil client
// yields a recorder that only logs.
func NewRecorder(client aws.CloudWatchAPI, namespace string) *Recorder {
	return &Recorder{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// Count adds n to the named counter, optionally dimensioned by event type.
func (r *Recorder) Count(ctx context.Context, name string, n float64, eventType string) {
	if r == nil || r.client == nil {
		return
	}
	datum := cwtypes.MetricDatum{
		MetricName: &name,
		Value:      &n,
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  timePtr(r.nowFunc().UTC()),
	}
	if eventType != "" {
		dimName := "EventType"
		datum.Dimensions = []cwtypes.Dimension{{Name: &dimName, Value: &eventType}}
	}
	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &r.namespace,
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		log.Printf("[metrics] put metric %s: %v", name, err)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
