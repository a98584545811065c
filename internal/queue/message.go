// Package queue carries jobs from ingest to the worker over SQS.
// Delivery is at-least-once; poison messages land on the queue's
// dead-letter target after the redrive policy's receive bound.
package queue

import "encoding/json"

// JobMessage is the payload sent from ingest -> SQS -> worker.
type JobMessage struct {
	OwnerKey      string          `json:"owner_key"`
	RequestID     string          `json:"request_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}
