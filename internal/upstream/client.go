// Package upstream is the HTTP client for the tax authority's clearance
// API, the slow and rate-limited operation this gateway fronts.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Error is a non-2xx answer from the authority. Terminal errors (4xx
// except 429) are deterministic rejections and must not be retried;
// everything else is worth another delivery.
type Error struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("authority returned %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// Terminal reports whether retrying can ever change the answer.
func (e *Error) Terminal() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// IsTerminal reports whether err is a terminal authority rejection.
// Transport failures and 5xx/429 answers are not terminal.
func IsTerminal(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Terminal()
}

// Client submits clearances to the authority with its own request
// timeout, independent of the queue's visibility timeout.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	httpc   *http.Client
}

// New returns a Client for the given authority endpoint.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
		httpc:   &http.Client{},
	}
}

// Clear submits one clearance payload and returns the authority's
// confirmation document.
func (c *Client) Clear(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/clearances", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build clearance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// transport failure: retryable by definition
		return nil, fmt.Errorf("clearance call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read clearance response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
