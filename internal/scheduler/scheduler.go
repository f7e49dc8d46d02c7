package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/shoplytics/cartsync/internal/aws"
)

// API is the scheduling contract the engine packages consume. Delivery is
// at-least-once: the queue may hand a task to more than one worker run, and
// the registry is the only cancellation mechanism, so downstream work must be
// idempotent.
type API interface {
	ScheduleOnce(ctx context.Context, hook string, delay time.Duration, args map[string]string) (string, error)
	ScheduleRecurring(ctx context.Context, hook string, interval time.Duration, args map[string]string) (string, error)
	ListPending(ctx context.Context, hook string) ([]Task, error)
	Cancel(ctx context.Context, taskID string) error
	IsScheduled(ctx context.Context, hook string) (bool, error)
	Claim(ctx context.Context, taskID string) (*Task, error)
}

// Scheduler stores pending tasks in a DynamoDB registry and delivers them via
// SQS delayed messages. A delivered message whose registry row is gone was
// cancelled and is a no-op. There is no atomic cancel-and-replace; the narrow
// window where both an old and a replacement ticket fire is tolerated and
// absorbed by idempotent consumers.
type Scheduler struct {
	client    aws.DynamoDBAPI
	publisher *aws.Publisher
	tableName string
	nowFunc   func() time.Time
}

// NewScheduler returns a Scheduler over the task registry table.
func NewScheduler(client aws.DynamoDBAPI, publisher *aws.Publisher, tableName string) *Scheduler {
	return &Scheduler{
		client:    client,
		publisher: publisher,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// ScheduleOnce registers a one-shot task and enqueues its delayed delivery.
// Returns the task id.
func (s *Scheduler) ScheduleOnce(ctx context.Context, hook string, delay time.Duration, args map[string]string) (string, error) {
	return s.schedule(ctx, hook, delay, 0, args)
}

// ScheduleRecurring registers a task that the worker re-registers after each
// run, interval apart.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, hook string, interval time.Duration, args map[string]string) (string, error) {
	return s.schedule(ctx, hook, interval, int64(interval/time.Second), args)
}

func (s *Scheduler) schedule(ctx context.Context, hook string, delay time.Duration, interval int64, args map[string]string) (string, error) {
	now := s.nowFunc()
	task := Task{
		TaskID:    uuid.NewString(),
		Hook:      hook,
		Args:      args,
		RunAt:     now.Add(delay).Unix(),
		Interval:  interval,
		CreatedAt: now.UTC(),
	}
	item, err := attributevalue.MarshalMap(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return "", fmt.Errorf("register task: %w", err)
	}

	body, err := json.Marshal(Message{TaskID: task.TaskID, Hook: hook})
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	attrs := map[string]string{"hook": hook}
	if err := s.publisher.SendTaskMessage(ctx, string(body), delay, attrs); err != nil {
		// best-effort rollback of the registry row so IsScheduled does not
		// report a task that was never enqueued
		_ = s.Cancel(ctx, task.TaskID)
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return task.TaskID, nil
}

// ListPending returns the registered, undelivered tasks for hook.
func (s *Scheduler) ListPending(ctx context.Context, hook string) ([]Task, error) {
	var tasks []Task
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:        &s.tableName,
			FilterExpression: awsString("hook = :h"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":h": &types.AttributeValueMemberS{Value: hook},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan tasks: %w", err)
		}
		for _, item := range out.Items {
			var t Task
			if err := attributevalue.UnmarshalMap(item, &t); err != nil {
				return nil, fmt.Errorf("unmarshal task: %w", err)
			}
			tasks = append(tasks, t)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return tasks, nil
}

// Cancel removes a task from the registry. Its already-enqueued delivery, if
// any, will find no row and be dropped by the worker.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"task_id": &types.AttributeValueMemberS{Value: taskID},
		},
	})
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	return nil
}

// IsScheduled reports whether any task for hook is still registered.
func (s *Scheduler) IsScheduled(ctx context.Context, hook string) (bool, error) {
	tasks, err := s.ListPending(ctx, hook)
	if err != nil {
		return false, err
	}
	return len(tasks) > 0, nil
}

// Claim resolves a delivered task id to its registered task and removes the
// registration. Returns (nil, nil) when the row is gone, which means the task
// was cancelled or this is a duplicate delivery.
func (s *Scheduler) Claim(ctx context.Context, taskID string) (*Task, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"task_id": &types.AttributeValueMemberS{Value: taskID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var t Task
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	if err := s.Cancel(ctx, taskID); err != nil {
		return nil, err
	}
	return &t, nil
}

func awsString(s string) *string { return &s }
