package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shoplytics/cartsync/internal/aws"
)

// API is the document-store contract consumed by the engine packages.
// Satisfied by *Store; tests substitute in-memory fakes.
type API interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, doc []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Entry, error)
	GetJSON(ctx context.Context, key string, out interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, v interface{}) error
}

// Store holds named JSON documents in a single DynamoDB table keyed by
// doc_key. There are no transactions; concurrent writers are last-write-wins.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore returns a Store bound to tableName.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Entry is one document returned from List.
type Entry struct {
	Key string
	Doc []byte
}

// Get returns the document stored under key, or (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"doc_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	doc, ok := out.Item["doc"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("document %s has no doc attribute", key)
	}
	return []byte(doc.Value), nil
}

// Set stores doc under key, overwriting any previous value.
func (s *Store) Set(ctx context.Context, key string, doc []byte) error {
	_, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]types.AttributeValue{
			"doc_key":    &types.AttributeValueMemberS{Value: key},
			"doc":        &types.AttributeValueMemberS{Value: string(doc)},
			"updated_at": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Delete removes the document under key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"doc_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// List returns every document whose key starts with prefix. Backed by a table
// scan; document counts here are bounded by the number of active carts.
func (s *Store) List(ctx context.Context, prefix string) ([]Entry, error) {
	var entries []Entry
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:        &s.tableName,
			FilterExpression: awsString("begins_with(doc_key, :p)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: prefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for _, item := range out.Items {
			k, ok := item["doc_key"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			doc, ok := item["doc"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			entries = append(entries, Entry{Key: k.Value, Doc: []byte(doc.Value)})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return entries, nil
}

// GetJSON unmarshals the document under key into out. Returns (false, nil)
// when the document is absent.
func (s *Store) GetJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	doc, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals v and stores it under key.
func (s *Store) SetJSON(ctx context.Context, key string, v interface{}) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, doc)
}

func awsString(s string) *string { return &s }
