package requests

import (
	"encoding/json"
	"time"
)

// Request record statuses. Terminal statuses never transition further.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Terminal reports whether a status is a terminal one.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Record is the shape persisted in the requests DynamoDB table.
// Result and Error are opaque to the protocol; only one of the two is
// ever present, and only on a terminal record.
type Record struct {
	OwnerKey  string          `dynamodbav:"owner_key"`  // PK; derived token, never the raw identity
	RequestID string          `dynamodbav:"request_id"` // SK; unique per owner
	Status    string          `dynamodbav:"status"`
	Result    json.RawMessage `dynamodbav:"result,omitempty"`
	Error     json.RawMessage `dynamodbav:"error,omitempty"`
	Attempts  int             `dynamodbav:"attempts,omitempty"`
	CreatedAt time.Time       `dynamodbav:"created_at"`
	UpdatedAt time.Time       `dynamodbav:"updated_at"`
	ExpiresAt int64           `dynamodbav:"expires_at"` // TTL epoch seconds
}
