package requests

import (
	"context"
	"errors"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory stand-in for the requests table. It
// understands exactly the update expressions the Store issues and
// nothing more.
type mockDynamo struct {
	mu    sync.Mutex
	table map[string]map[string]types.AttributeValue

	failAll     bool // simulate an unreachable table
	getCalls    int
	updateCalls int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{table: map[string]map[string]types.AttributeValue{}}
}

var errMockDown = errors.New("mock dynamodb down")

func itemKey(key map[string]types.AttributeValue) (string, error) {
	owner, ok := key["owner_key"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing owner_key")
	}
	req, ok := key["request_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("missing request_id")
	}
	return owner.Value + "|" + req.Value, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.failAll {
		return nil, errMockDown
	}
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

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errMockDown
	}
	k, err := itemKey(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && strings.Contains(*params.ConditionExpression, "attribute_not_exists") {
		if existing, ok := m.table[k]; ok && !m.expired(existing, params.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.failAll {
		return nil, errMockDown
	}
	k, err := itemKey(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table[k]
	if !ok {
		item = map[string]types.AttributeValue{
			"owner_key":  params.Key["owner_key"],
			"request_id": params.Key["request_id"],
		}
	}

	expr := ""
	if params.UpdateExpression != nil {
		expr = *params.UpdateExpression
	}
	vals := params.ExpressionAttributeValues

	// attempts counter expression
	if strings.Contains(expr, "if_not_exists(attempts, :zero) + :inc") {
		n := 0
		if cur, ok := item["attempts"].(*types.AttributeValueMemberN); ok {
			n = atoiOrZero(cur.Value)
		}
		item["attempts"] = &types.AttributeValueMemberN{Value: itoa(n + 1)}
		if v, ok := vals[":ua"]; ok {
			item["updated_at"] = v
		}
		m.table[k] = item
		return &dyn.UpdateItemOutput{Attributes: item}, nil
	}

	// upsert expression
	if v, ok := vals[":s"]; ok {
		item["status"] = v
	}
	if v, ok := vals[":ua"]; ok {
		item["updated_at"] = v
	}
	if v, ok := vals[":ea"]; ok {
		item["expires_at"] = v
	}
	if v, ok := vals[":ca"]; ok {
		if _, exists := item["created_at"]; !exists {
			item["created_at"] = v
		}
	}
	if v, ok := vals[":d"]; ok {
		if strings.Contains(expr, "#res = :d") {
			item["result"] = v
		}
		if strings.Contains(expr, "#err = :d") {
			item["error"] = v
		}
	}
	if strings.Contains(expr, "REMOVE #err") {
		delete(item, "error")
	}
	if strings.Contains(expr, "REMOVE #res") {
		delete(item, "result")
	}

	m.table[k] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

// expired evaluates the "expires_at < :now" half of the create
// condition against an existing item.
func (m *mockDynamo) expired(item map[string]types.AttributeValue, vals map[string]types.AttributeValue) bool {
	ea, ok := item["expires_at"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	now, ok := vals[":now"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	return atoiOrZero(ea.Value) < atoiOrZero(now.Value)
}

func atoiOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}
