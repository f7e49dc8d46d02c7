package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/shoplytics/cartsync/internal/aws"
)

// Store reads the orders-history table: partition key shop_id, numeric sort
// key order_id, so cursor pagination is a single ascending key-condition
// query. The synced marker lives on the record itself (synced_at), not in a
// side table; clearing it is the only supported force re-sync.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	shopID    string
	nowFunc   func() time.Time
}

// NewStore returns a Store for one shop's history.
func NewStore(client aws.DynamoDBAPI, tableName, shopID string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		shopID:    shopID,
		nowFunc:   time.Now,
	}
}

func (s *Store) filterExpr(f Filter) (string, map[string]types.AttributeValue) {
	return "attribute_not_exists(synced_at) AND created_at > :cutoff", map[string]types.AttributeValue{
		":cutoff": &types.AttributeValueMemberS{Value: f.CreatedAfter.UTC().Format(time.RFC3339)},
	}
}

// Query returns up to limit unsynced records with order_id > afterID, oldest
// id first. DynamoDB applies Limit before the filter, so a page may come back
// short of limit while more matching records remain; the caller treats only a
// truly empty page as exhaustion of the cursor.
func (s *Store) Query(ctx context.Context, f Filter, afterID int64, limit int32) ([]OrderRecord, error) {
	filter, vals := s.filterExpr(f)
	vals[":shop"] = &types.AttributeValueMemberS{Value: s.shopID}
	vals[":cursor"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(afterID, 10)}

	var records []OrderRecord
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:                 &s.tableName,
			KeyConditionExpression:    awsString("shop_id = :shop AND order_id > :cursor"),
			FilterExpression:          &filter,
			ExpressionAttributeValues: vals,
			ScanIndexForward:          boolPtr(true),
			Limit:                     &limit,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query history: %w", err)
		}
		for _, item := range out.Items {
			var rec OrderRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("unmarshal record: %w", err)
			}
			records = append(records, rec)
			if int32(len(records)) >= limit {
				return records, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return records, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// Count returns the number of unsynced records after the cutoff. This is a
// point-in-time estimate; the backfill does not re-validate it continuously.
func (s *Store) Count(ctx context.Context, f Filter) (int64, error) {
	filter, vals := s.filterExpr(f)
	vals[":shop"] = &types.AttributeValueMemberS{Value: s.shopID}

	var total int64
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:                 &s.tableName,
			KeyConditionExpression:    awsString("shop_id = :shop"),
			FilterExpression:          &filter,
			ExpressionAttributeValues: vals,
			Select:                    types.SelectCount,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return 0, fmt.Errorf("count history: %w", err)
		}
		total += int64(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// Mark sets the synced marker on rec. Once set, the record is never
// re-selected by the cursor query. The condition keeps an unconditional
// UpdateItem from materializing a ghost item when the record was deleted
// between fetch and mark; a vanished record counts as marked.
func (s *Store) Mark(ctx context.Context, rec OrderRecord) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.recordKey(rec),
		ConditionExpression: awsString("attribute_exists(order_id)"),
		UpdateExpression:    awsString("SET synced_at = :ts"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ts": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		// detect conditional check failure
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return nil
		}
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// Unmark clears the synced marker, making the record eligible again.
func (s *Store) Unmark(ctx context.Context, rec OrderRecord) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.recordKey(rec),
		UpdateExpression: awsString("REMOVE synced_at"),
	})
	if err != nil {
		return fmt.Errorf("unmark synced: %w", err)
	}
	return nil
}

func (s *Store) recordKey(rec OrderRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"shop_id":  &types.AttributeValueMemberS{Value: s.shopID},
		"order_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.OrderID, 10)},
	}
}

func awsString(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
