// Package poller drives the client side of the submit/poll protocol:
// submit once, then re-poll on an adaptive schedule until the job is
// terminal, the global timeout elapses, or the caller cancels.
package poller

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/taxops/go-clearflow/protocol"
)

// Outcome classifies how a Submit call resolved.
type Outcome int

const (
	// OutcomeSuccess: the job reached COMPLETED; Response carries the result.
	OutcomeSuccess Outcome = iota
	// OutcomeFailed: the job reached a terminal failure; Response
	// carries the error payload and its mapped status.
	OutcomeFailed
	// OutcomeTimeout: the global ceiling elapsed while the job was
	// still pending. Response is the most recent non-terminal answer;
	// the caller may resume polling later with the same request id.
	OutcomeTimeout
	// OutcomeAborted: the caller canceled while the poller was waiting
	// between attempts. No further calls were issued.
	OutcomeAborted
	// OutcomeDetached: fire-and-forget; exactly one call was made and
	// Response is its answer verbatim, whatever the status.
	OutcomeDetached
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeFailed:
		return "Failed"
	case OutcomeTimeout:
		return "Timeout"
	case OutcomeAborted:
		return "Aborted"
	case OutcomeDetached:
		return "Detached"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Response is one HTTP answer from the ingest endpoint.
type Response struct {
	StatusCode int
	Body       []byte
	// RetryHint is the server's suggested wait before the next poll;
	// -1 when the header was absent.
	RetryHint time.Duration
}

// Result is the resolution of one Submit call.
type Result struct {
	Outcome   Outcome
	RequestID string
	// Response is the answer the outcome was derived from: the
	// terminal answer for Success/Failed, the last non-terminal answer
	// for Timeout and Aborted.
	Response *Response
	// Calls is the total number of HTTP calls issued.
	Calls int
}

// Config configures a Client for one job type's endpoint.
type Config struct {
	// BaseURL is the job type's resource, e.g. https://gw.example/clearances.
	BaseURL string
	// ClientID is the caller's authenticated subject header value.
	ClientID string
	// Schedule defaults to Exponential{1s, 4s}.
	Schedule Schedule
	// Timeout is the global ceiling measured from the first call;
	// defaults to 60s.
	Timeout time.Duration
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client polls one ingest endpoint. It is single-threaded cooperative:
// one outstanding call and one pending wait per Submit invocation, and
// it never overlaps polls for the same request id.
type Client struct {
	cfg Config

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New returns a Client with Config defaults applied.
func New(cfg Config) *Client {
	if cfg.Schedule == nil {
		cfg.Schedule = Exponential{Base: time.Second, Cap: 4 * time.Second}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{
		cfg:       cfg,
		nowFunc:   time.Now,
		sleepFunc: sleep,
	}
}

// SubmitOptions tune one Submit call.
type SubmitOptions struct {
	// RequestID resumes or names a logical operation; empty generates one.
	RequestID string
	// NoWait requests fire-and-forget: one call, answer returned
	// verbatim. This is the only thing that suppresses polling; a
	// server-sent zero retry hint on its own never does.
	NoWait bool
}

// Submit sends the payload and polls until a terminal answer, the
// global timeout, or cancellation. The returned error is reserved for
// transport-level failures; Timeout and Aborted are Outcomes, not
// errors.
func (c *Client) Submit(ctx context.Context, payload []byte, opts SubmitOptions) (*Result, error) {
	requestID := opts.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	result := &Result{RequestID: requestID}

	start := c.nowFunc()
	deadline := start.Add(c.cfg.Timeout)

	resp, err := c.call(ctx, http.MethodPost, c.cfg.BaseURL, payload, requestID, true)
	if err != nil {
		return nil, err
	}
	result.Response = resp
	result.Calls = 1

	if opts.NoWait {
		result.Outcome = OutcomeDetached
		return result, nil
	}

	return c.pollLoop(ctx, result, deadline)
}

// Poll resumes polling an existing request without re-submitting, e.g.
// after a previous Submit resolved as Timeout. The timeout ceiling
// restarts from now.
func (c *Client) Poll(ctx context.Context, requestID string) (*Result, error) {
	if requestID == "" {
		return nil, fmt.Errorf("poll: request id required")
	}
	result := &Result{RequestID: requestID}
	deadline := c.nowFunc().Add(c.cfg.Timeout)

	resp, err := c.call(ctx, http.MethodGet, c.cfg.BaseURL+"/"+requestID, nil, requestID, false)
	if err != nil {
		return result, err
	}
	result.Response = resp
	result.Calls = 1

	return c.pollLoop(ctx, result, deadline)
}

// pollLoop repeats polls for result's request until a terminal answer,
// the deadline, or cancellation. result.Response holds the answer the
// loop starts from.
func (c *Client) pollLoop(ctx context.Context, result *Result, deadline time.Time) (*Result, error) {
	resp := result.Response
	for n := 1; ; n++ {
		switch {
		case resp.StatusCode == http.StatusAccepted:
			// not yet terminal, keep going
		case resp.StatusCode == http.StatusOK:
			result.Outcome = OutcomeSuccess
			return result, nil
		default:
			result.Outcome = OutcomeFailed
			return result, nil
		}

		remaining := deadline.Sub(c.nowFunc())
		if remaining <= 0 {
			result.Outcome = OutcomeTimeout
			return result, nil
		}

		delay := c.cfg.Schedule.Delay(n)
		// a positive server hint may narrow the wait, never stretch it
		// past the schedule and never shortcut the loop entirely
		if resp.RetryHint > 0 && resp.RetryHint < delay {
			delay = resp.RetryHint
		}
		if delay > remaining {
			delay = remaining
		}

		if err := c.sleepFunc(ctx, delay); err != nil {
			result.Outcome = OutcomeAborted
			return result, nil
		}
		if !c.nowFunc().Before(deadline) {
			result.Outcome = OutcomeTimeout
			return result, nil
		}

		next, err := c.call(ctx, http.MethodGet, c.cfg.BaseURL+"/"+result.RequestID, nil, result.RequestID, false)
		if err != nil {
			return result, err
		}
		resp = next
		result.Response = resp
		result.Calls++
	}
}

func (c *Client) call(ctx context.Context, method, url string, body []byte, requestID string, initial bool) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(protocol.HeaderRequestID, requestID)
	if initial {
		// present only on first contact; a poll must never look like a
		// fresh submission
		req.Header.Set(protocol.HeaderInitialRequest, "true")
	}
	if c.cfg.ClientID != "" {
		req.Header.Set("X-Client-Id", c.cfg.ClientID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       respBody,
		RetryHint:  parseRetryHint(httpResp.Header.Get(protocol.HeaderRetryHint)),
	}, nil
}

func parseRetryHint(v string) time.Duration {
	if v == "" {
		return -1
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

// sleep waits for d or until ctx is canceled. Cancellation is only
// observed here, at wait boundaries; it does not abort an in-flight
// HTTP call on its own.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// still yield to cancellation before the next call
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
