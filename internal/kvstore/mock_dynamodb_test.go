package kvstore

import (
	"context"
	"errors"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a very small in-memory mock for the DynamoDB calls the
// document store issues. Not production-grade.
type simpleMock struct {
	mu    sync.Mutex
	table map[string]map[string]types.AttributeValue

	putCalls    int
	getCalls    int
	deleteCalls int
	scanCalls   int
}

func newSimpleMock() *simpleMock {
	return &simpleMock{
		table: map[string]map[string]types.AttributeValue{},
	}
}

func itemKey(attrs map[string]types.AttributeValue) (string, error) {
	k, ok := attrs["doc_key"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing doc_key")
	}
	return k.Value, nil
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	k, err := itemKey(params.Item)
	if err != nil {
		return nil, err
	}
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	k, err := itemKey(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *simpleMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	return nil, errors.New("not supported by mock")
}

func (m *simpleMock) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	k, err := itemKey(params.Key)
	if err != nil {
		return nil, err
	}
	delete(m.table, k)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *simpleMock) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	return nil, errors.New("not supported by mock")
}

// Scan supports the single filter shape the store uses:
// begins_with(doc_key, :p).
func (m *simpleMock) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanCalls++
	prefix := ""
	if v, ok := params.ExpressionAttributeValues[":p"]; ok {
		prefix = v.(*types.AttributeValueMemberS).Value
	}
	out := &dyn.ScanOutput{}
	for k, item := range m.table {
		if strings.HasPrefix(k, prefix) {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}
