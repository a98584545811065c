package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/taxops/go-clearflow/internal/awsx"
)

// ErrUnavailable indicates the backing table could not be reached. It is
// never folded into "absent": ingest must know whether a record actually
// exists before it decides to enqueue.
var ErrUnavailable = errors.New("request store unavailable")

// Store encapsulates request-record operations against DynamoDB.
//
// A Store constructed with an empty table name is disabled: Put succeeds
// without writing and Get always reports absent. That mode exists so
// non-critical record types can be switched off per deployment; the
// job-tracking table must always be configured.
type Store struct {
	client    awsx.DynamoDBAPI
	tableName string
	retention time.Duration // TTL window refreshed on every write
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// retention: TTL window applied on every write (e.g. time.Hour).
func NewStore(client awsx.DynamoDBAPI, tableName string, retention time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		retention: retention,
		nowFunc:   time.Now,
	}
}

// Disabled reports whether this store is a no-op.
func (s *Store) Disabled() bool { return s.tableName == "" }

// Create writes a fresh PENDING record for (ownerKey, requestID) only
// when no record exists yet. It returns false when another writer got
// there first; that is how two concurrent first contacts for the same
// request id collapse to a single enqueue.
func (s *Store) Create(ctx context.Context, ownerKey, requestID string) (bool, error) {
	if s.Disabled() {
		return true, nil
	}

	now := s.nowFunc().UTC()
	item, err := attributevalue.MarshalMap(Record{
		OwnerKey:  ownerKey,
		RequestID: requestID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.retention).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	// a record past its expires_at counts as absent even when the TTL
	// sweep has not reclaimed it yet, mirroring Get
	input := &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(request_id) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	}
	if _, err := s.client.PutItem(ctx, input); err != nil {
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("%w: create %s: %v", ErrUnavailable, requestID, err)
	}
	return true, nil
}

// Put upserts the record for (ownerKey, requestID). A new record gets
// created_at = now; an existing record keeps its original created_at
// (first write wins). updated_at and expires_at are refreshed on every
// call. When status is terminal, data is stored under result or error
// and the opposite field is removed.
//
// Put deliberately does not guard against overwriting a terminal
// record; the worker is responsible for writing each terminal outcome
// at most once, and re-writing the same outcome is harmless.
func (s *Store) Put(ctx context.Context, ownerKey, requestID, status string, data json.RawMessage) error {
	if s.Disabled() {
		return nil
	}

	now := s.nowFunc().UTC()
	update := "SET #s = :s, updated_at = :ua, expires_at = :ea, created_at = if_not_exists(created_at, :ca)"
	names := map[string]string{"#s": "status"}
	values := map[string]types.AttributeValue{
		":s":  &types.AttributeValueMemberS{Value: status},
		":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		":ea": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(s.retention).Unix())},
		":ca": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}

	switch status {
	case StatusCompleted:
		names["#res"], names["#err"] = "result", "error"
		if len(data) > 0 {
			update += ", #res = :d"
			values[":d"] = &types.AttributeValueMemberB{Value: data}
		}
		update += " REMOVE #err"
	case StatusFailed:
		names["#res"], names["#err"] = "result", "error"
		if len(data) > 0 {
			update += ", #err = :d"
			values[":d"] = &types.AttributeValueMemberB{Value: data}
		}
		update += " REMOVE #res"
	}

	input := &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(ownerKey, requestID),
		UpdateExpression:          &update,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, requestID, err)
	}
	return nil
}

// Get returns the record for (ownerKey, requestID), or (nil, nil) when
// no live record exists. A record whose expires_at has passed is
// reported absent even if DynamoDB's TTL sweep has not reclaimed it yet.
func (s *Store) Get(ctx context.Context, ownerKey, requestID string) (*Record, error) {
	if s.Disabled() {
		return nil, nil
	}

	input := &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(ownerKey, requestID),
		ConsistentRead: awsBool(true),
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", ErrUnavailable, requestID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	if rec.ExpiresAt > 0 && !s.nowFunc().Before(time.Unix(rec.ExpiresAt, 0)) {
		return nil, nil
	}
	return &rec, nil
}

// IncrementAttempts bumps the delivery counter by one. Failures are not
// fatal to processing; callers may ignore the returned error.
func (s *Store) IncrementAttempts(ctx context.Context, ownerKey, requestID string) error {
	if s.Disabled() {
		return nil
	}

	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.key(ownerKey, requestID),
		UpdateExpression: awsString("SET attempts = if_not_exists(attempts, :zero) + :inc, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("%w: increment attempts %s: %v", ErrUnavailable, requestID, err)
	}
	return nil
}

func (s *Store) key(ownerKey, requestID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"owner_key":  &types.AttributeValueMemberS{Value: ownerKey},
		"request_id": &types.AttributeValueMemberS{Value: requestID},
	}
}

// Helpers
func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
