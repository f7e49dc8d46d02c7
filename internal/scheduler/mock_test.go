package scheduler

import (
	"context"
	"errors"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// mockDynamo is a minimal in-memory registry table keyed by task_id.
type mockDynamo struct {
	mu    sync.Mutex
	table map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{table: map[string]map[string]types.AttributeValue{}}
}

func taskID(attrs map[string]types.AttributeValue) (string, error) {
	k, ok := attrs["task_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing task_id")
	}
	return k.Value, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := taskID(params.Item)
	if err != nil {
		return nil, err
	}
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := taskID(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("not supported by mock")
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, err := taskID(params.Key)
	if err != nil {
		return nil, err
	}
	delete(m.table, k)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	return nil, errors.New("not supported by mock")
}

// Scan supports the single filter shape the scheduler uses: hook = :h.
func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hook := ""
	if v, ok := params.ExpressionAttributeValues[":h"]; ok {
		hook = v.(*types.AttributeValueMemberS).Value
	}
	out := &dyn.ScanOutput{}
	for _, item := range m.table {
		h, ok := item["hook"].(*types.AttributeValueMemberS)
		if ok && h.Value == hook {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

// mockSQS records sent messages; fails when failSend is set.
type mockSQS struct {
	mu       sync.Mutex
	sent     []sqs.SendMessageInput
	failSend bool
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend {
		return nil, errors.New("sqs unavailable")
	}
	m.sent = append(m.sent, *params)
	return &sqs.SendMessageOutput{}, nil
}
