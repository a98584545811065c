// Package ingest is the stateless HTTP entry point for clearance jobs.
// First contact creates the PENDING record and enqueues the work;
// every later contact for the same request id is answered from the
// request store alone and never enqueues again.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/taxops/go-clearflow/internal/auth"
	"github.com/taxops/go-clearflow/internal/masking"
	"github.com/taxops/go-clearflow/internal/metrics"
	"github.com/taxops/go-clearflow/internal/queue"
	"github.com/taxops/go-clearflow/internal/requests"
	"github.com/taxops/go-clearflow/internal/validation"
	"github.com/taxops/go-clearflow/protocol"
)

// JobType names the one job type this endpoint instance serves. Other
// job types get their own queue, worker, and endpoint instance on the
// same protocol.
const JobType = "clearance"

// RecordStore is the slice of the request store the handler needs.
// *requests.Store satisfies it; tests substitute an in-memory fake.
type RecordStore interface {
	Get(ctx context.Context, ownerKey, requestID string) (*requests.Record, error)
	Create(ctx context.Context, ownerKey, requestID string) (bool, error)
	Put(ctx context.Context, ownerKey, requestID, status string, data json.RawMessage) error
}

// JobPublisher enqueues one job message. *queue.Publisher satisfies it.
type JobPublisher interface {
	Send(ctx context.Context, msg queue.JobMessage) error
}

// HandlerConfig groups dependencies for the clearance handler.
type HandlerConfig struct {
	Store     RecordStore
	Publisher JobPublisher
	Metrics   *metrics.Publisher
	Masker    *masking.Masker
	RetryHint time.Duration // suggested wait between polls
}

// RegisterClearanceRoutes registers the submit/poll routes. The owner
// key middleware must already be installed on r.
func RegisterClearanceRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.POST("/clearances", func(c *gin.Context) { handleSubmit(c, cfg, v) })
	r.GET("/clearances/:request_id", func(c *gin.Context) { handlePoll(c, cfg) })
}

// handleSubmit serves both first contact and repeated POSTs. Dedup is
// the record's presence in the store, enforced by a conditional create,
// which is what makes retried first contacts and at-least-once queue
// delivery safe.
func handleSubmit(c *gin.Context, cfg HandlerConfig, v *validatorv10.Validate) {
	ctx := c.Request.Context()

	var req validation.SubmitClearanceRequest
	if err := validation.BindAndValidate(c, &req, v); err != nil {
		// BindAndValidate already wrote a 400; no record is created
		return
	}

	ownerKey := auth.OwnerKey(c)
	requestID := c.GetHeader(protocol.HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	rec, err := cfg.Store.Get(ctx, ownerKey, requestID)
	if err != nil {
		storeUnavailable(c, err)
		return
	}
	if rec != nil {
		// record exists in any state: do not enqueue again
		respondFromRecord(c, cfg, rec)
		return
	}

	created, err := cfg.Store.Create(ctx, ownerKey, requestID)
	if err != nil {
		storeUnavailable(c, err)
		return
	}
	if !created {
		// lost the race against a concurrent identical submit; the
		// winner enqueued, so answer from whatever it wrote
		rec, err := cfg.Store.Get(ctx, ownerKey, requestID)
		if err != nil {
			storeUnavailable(c, err)
			return
		}
		if rec != nil {
			respondFromRecord(c, cfg, rec)
			return
		}
		accepted(c, cfg, requestID, requests.StatusPending, 0)
		return
	}

	payload, _ := json.Marshal(req)
	msg := queue.JobMessage{
		OwnerKey:      ownerKey,
		RequestID:     requestID,
		Payload:       cfg.Masker.Mask(payload),
		CorrelationID: requestID,
	}
	if err := cfg.Publisher.Send(ctx, msg); err != nil {
		// the record exists but nobody will ever process it; flip it to
		// FAILED now so the caller does not poll forever
		reason, _ := json.Marshal(gin.H{"reason": "dispatch failed"})
		if perr := cfg.Store.Put(ctx, ownerKey, requestID, requests.StatusFailed, reason); perr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch_failed", "detail": perr.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "dispatch_failed", "request_id": requestID})
		return
	}

	accepted(c, cfg, requestID, requests.StatusPending, 0)
}

func handlePoll(c *gin.Context, cfg HandlerConfig) {
	ctx := c.Request.Context()
	ownerKey := auth.OwnerKey(c)
	requestID := c.Param("request_id")

	rec, err := cfg.Store.Get(ctx, ownerKey, requestID)
	if err != nil {
		storeUnavailable(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_request", "request_id": requestID})
		return
	}
	respondFromRecord(c, cfg, rec)
}

func respondFromRecord(c *gin.Context, cfg HandlerConfig, rec *requests.Record) {
	if cfg.Metrics != nil {
		cfg.Metrics.PollAnswered(c.Request.Context(), JobType, rec.Status)
	}

	switch rec.Status {
	case requests.StatusPending, requests.StatusProcessing:
		accepted(c, cfg, rec.RequestID, rec.Status, time.Since(rec.CreatedAt))
	case requests.StatusCompleted:
		if len(rec.Result) > 0 {
			c.Data(http.StatusOK, "application/json", rec.Result)
			return
		}
		c.JSON(http.StatusOK, gin.H{"request_id": rec.RequestID, "status": rec.Status})
	case requests.StatusFailed:
		c.Data(failureStatus(rec.Error), "application/json", failureBody(rec))
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_record_status", "status": rec.Status})
	}
}

func accepted(c *gin.Context, cfg HandlerConfig, requestID, status string, age time.Duration) {
	c.Header(protocol.HeaderRetryHint, fmt.Sprintf("%d", retryHintMillis(cfg.RetryHint, age)))
	c.JSON(http.StatusAccepted, gin.H{"request_id": requestID, "status": status})
}

// retryHintMillis narrows the poll hint once a job has aged past the
// typical processing window: an old PENDING job is about to resolve one
// way or the other, so clients may check more often.
func retryHintMillis(hint time.Duration, age time.Duration) int64 {
	if hint <= 0 {
		hint = time.Second
	}
	if age > 30*time.Second {
		hint /= 2
	}
	return hint.Milliseconds()
}

// failureStatus maps a FAILED record to an HTTP status: authority
// rejections carry a code and stay 422, everything else is a gateway
// level failure.
func failureStatus(errPayload json.RawMessage) int {
	var probe struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(errPayload, &probe); err == nil && probe.Code != "" {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

func failureBody(rec *requests.Record) []byte {
	if len(rec.Error) > 0 {
		return rec.Error
	}
	body, _ := json.Marshal(gin.H{"request_id": rec.RequestID, "status": rec.Status})
	return body
}

func storeUnavailable(c *gin.Context, err error) {
	if errors.Is(err, requests.ErrUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "detail": err.Error()})
}
