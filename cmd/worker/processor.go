package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/taxops/go-clearflow/internal/metrics"
	"github.com/taxops/go-clearflow/internal/queue"
	"github.com/taxops/go-clearflow/internal/requests"
	"github.com/taxops/go-clearflow/internal/upstream"
)

// RecordStore is the slice of the request store the processor needs.
type RecordStore interface {
	Get(ctx context.Context, ownerKey, requestID string) (*requests.Record, error)
	Put(ctx context.Context, ownerKey, requestID, status string, data json.RawMessage) error
	IncrementAttempts(ctx context.Context, ownerKey, requestID string) error
}

// Authority performs the real clearance operation.
type Authority interface {
	Clear(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// Processor handles queued clearance jobs and writes terminal outcomes
// to the request store.
type Processor struct {
	store     RecordStore
	authority Authority
	metrics   *metrics.Publisher
	nowFunc   func() time.Time
}

// NewProcessor creates a worker processor with its dependencies injected.
func NewProcessor(store RecordStore, authority Authority, m *metrics.Publisher) *Processor {
	return &Processor{
		store:     store,
		authority: authority,
		metrics:   m,
		nowFunc:   time.Now,
	}
}

// Handle receives an SQS batch event and processes each message.
// Returning an error makes Lambda put the batch back; after the redrive
// policy's receive bound the messages land on the dead-letter queue.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.HandleBody(ctx, rec.Body); err != nil {
			log.Printf("[worker] error: %v", err)
			return err
		}
	}
	return nil
}

// HandleBody processes one message body. It is the queue.Handler used
// in local consumer mode: a returned error nacks the message.
func (p *Processor) HandleBody(ctx context.Context, body string) error {
	var msg queue.JobMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		// poison message: keep failing it so the redrive policy
		// dead-letters it instead of us silently dropping it
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.OwnerKey == "" || msg.RequestID == "" {
		return fmt.Errorf("message missing owner or request id: %s", body)
	}

	log.Printf("[worker] received request=%s corr=%s", msg.RequestID, msg.CorrelationID)

	rec, err := p.store.Get(ctx, msg.OwnerKey, msg.RequestID)
	if err != nil {
		return fmt.Errorf("fetch record: %w", err)
	}
	if rec == nil {
		// the record expired before we got here; nobody is polling for
		// this result anymore
		log.Printf("[worker] record gone, dropping request=%s", msg.RequestID)
		return nil
	}
	if requests.Terminal(rec.Status) {
		// duplicate delivery after the outcome was already written
		log.Printf("[worker] already %s, dropping duplicate request=%s", rec.Status, msg.RequestID)
		return nil
	}

	if err := p.store.Put(ctx, msg.OwnerKey, msg.RequestID, requests.StatusProcessing, nil); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	_ = p.store.IncrementAttempts(ctx, msg.OwnerKey, msg.RequestID)

	start := p.nowFunc()
	result, err := p.authority.Clear(ctx, msg.Payload)
	if err != nil {
		if upstream.IsTerminal(err) {
			// deterministic rejection: record it so the caller gets a
			// terminal answer instead of polling forever
			if perr := p.store.Put(ctx, msg.OwnerKey, msg.RequestID, requests.StatusFailed, failurePayload(err)); perr != nil {
				return fmt.Errorf("mark failed: %w", perr)
			}
			p.emit(ctx, requests.StatusFailed, start)
			log.Printf("[worker] rejected request=%s: %v", msg.RequestID, err)
			return nil
		}
		// transient: nack so the queue redelivers, possibly to another
		// worker, bounded by the redrive policy
		return fmt.Errorf("clearance attempt: %w", err)
	}

	if err := p.store.Put(ctx, msg.OwnerKey, msg.RequestID, requests.StatusCompleted, result); err != nil {
		// the write is idempotent; redelivery will try it again
		return fmt.Errorf("mark completed: %w", err)
	}
	p.emit(ctx, requests.StatusCompleted, start)
	log.Printf("[worker] completed request=%s", msg.RequestID)
	return nil
}

func (p *Processor) emit(ctx context.Context, status string, start time.Time) {
	if p.metrics != nil {
		p.metrics.JobProcessed(ctx, "clearance", status, p.nowFunc().Sub(start))
	}
}

// failurePayload extracts the authority's error document, or wraps the
// error text when there is none.
func failurePayload(err error) json.RawMessage {
	var ae *upstream.Error
	if errors.As(err, &ae) && len(ae.Body) > 0 && json.Valid(ae.Body) {
		return ae.Body
	}
	out, _ := json.Marshal(map[string]string{"reason": err.Error()})
	return out
}
