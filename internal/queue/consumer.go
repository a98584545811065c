package queue

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/taxops/go-clearflow/internal/awsx"
	"golang.org/x/time/rate"
)

// Handler processes one message body. Returning an error nacks the
// message: its visibility is reset to zero so SQS redelivers it, and the
// redrive policy dead-letters it once the receive count is exhausted.
// Terminal business failures must be absorbed (recorded as FAILED) and
// return nil so the message is acked.
type Handler func(ctx context.Context, body string) error

// Consumer long-polls an SQS queue and feeds messages to a Handler one
// at a time. The limiter is the admission-control knob capping load on
// whatever rate-limited upstream the handler calls.
type Consumer struct {
	SQS       awsx.SQSAPI
	QueueURL  string
	Handler   Handler
	Limiter   *rate.Limiter
	WaitTime  int32         // long-poll seconds, default 20
	ErrorWait time.Duration // pause after a receive error, default 5s
}

// NewConsumer returns a Consumer with default long-poll settings.
func NewConsumer(sqsClient awsx.SQSAPI, queueURL string, h Handler, limiter *rate.Limiter) *Consumer {
	return &Consumer{
		SQS:       sqsClient,
		QueueURL:  queueURL,
		Handler:   h,
		Limiter:   limiter,
		WaitTime:  20,
		ErrorWait: 5 * time.Second,
	}
}

// Run polls until the context is canceled. Receive errors are logged
// and retried after ErrorWait rather than tearing the worker down.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              &c.QueueURL,
			MaxNumberOfMessages:   1,
			WaitTimeSeconds:       c.WaitTime,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[consumer] receive error: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.ErrorWait):
			}
			continue
		}

		for _, m := range out.Messages {
			if err := c.Handler(ctx, deref(m.Body)); err != nil {
				log.Printf("[consumer] handler error, nacking: %v", err)
				c.nack(ctx, deref(m.ReceiptHandle))
				continue
			}
			c.ack(ctx, deref(m.ReceiptHandle))
		}
	}
}

func (c *Consumer) ack(ctx context.Context, receipt string) {
	_, err := c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: &receipt,
	})
	if err != nil {
		// the message will come back; processing must stay idempotent
		log.Printf("[consumer] delete error: %v", err)
	}
}

// nack makes the message immediately visible again instead of waiting
// out the visibility timeout.
func (c *Consumer) nack(ctx context.Context, receipt string) {
	_, err := c.SQS.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &c.QueueURL,
		ReceiptHandle:     &receipt,
		VisibilityTimeout: 0,
	})
	if err != nil {
		log.Printf("[consumer] change visibility error: %v", err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
