package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/taxops/go-clearflow/internal/auth"
	"github.com/taxops/go-clearflow/internal/masking"
	"github.com/taxops/go-clearflow/internal/queue"
	"github.com/taxops/go-clearflow/internal/requests"
	"github.com/taxops/go-clearflow/protocol"
)

// fakeStore implements RecordStore at the record level.
type fakeStore struct {
	mu      sync.Mutex
	recs    map[string]*requests.Record
	failAll bool
	nowFunc func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		recs:    map[string]*requests.Record{},
		nowFunc: time.Now,
	}
}

func (f *fakeStore) Get(ctx context.Context, ownerKey, requestID string) (*requests.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, requests.ErrUnavailable
	}
	rec, ok := f.recs[ownerKey+"|"+requestID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) Create(ctx context.Context, ownerKey, requestID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return false, requests.ErrUnavailable
	}
	k := ownerKey + "|" + requestID
	if _, ok := f.recs[k]; ok {
		return false, nil
	}
	now := f.nowFunc()
	f.recs[k] = &requests.Record{
		OwnerKey:  ownerKey,
		RequestID: requestID,
		Status:    requests.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
	return true, nil
}

func (f *fakeStore) Put(ctx context.Context, ownerKey, requestID, status string, data json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return requests.ErrUnavailable
	}
	now := f.nowFunc()
	k := ownerKey + "|" + requestID
	rec, ok := f.recs[k]
	if !ok {
		rec = &requests.Record{OwnerKey: ownerKey, RequestID: requestID, CreatedAt: now}
		f.recs[k] = rec
	}
	rec.Status = status
	rec.UpdatedAt = now
	rec.ExpiresAt = now.Add(time.Hour).Unix()
	switch status {
	case requests.StatusCompleted:
		rec.Result, rec.Error = data, nil
	case requests.StatusFailed:
		rec.Error, rec.Result = data, nil
	}
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []queue.JobMessage
	fail bool
}

func (f *fakePublisher) Send(ctx context.Context, msg queue.JobMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("sqs down")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func newTestRouter(store RecordStore, pub JobPublisher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(auth.OwnerKeyMiddleware("test-secret"))
	RegisterClearanceRoutes(r, HandlerConfig{
		Store:     store,
		Publisher: pub,
		Masker:    masking.New(),
		RetryHint: time.Second,
	})
	return r
}

const submitBody = `{
	"invoice_id": "inv-1",
	"tax_id": "PL5260250274",
	"currency": "PLN",
	"gross_total": 123.00,
	"lines": [{"description": "widget", "net": 100.00, "tax_rate": 0.23}]
}`

func doSubmit(r *gin.Engine, requestID string, initial bool) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/clearances", strings.NewReader(submitBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Id", "client-a")
	if requestID != "" {
		req.Header.Set(protocol.HeaderRequestID, requestID)
	}
	if initial {
		req.Header.Set(protocol.HeaderInitialRequest, "true")
	}
	r.ServeHTTP(w, req)
	return w
}

func doPoll(r *gin.Engine, requestID string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/clearances/"+requestID, nil)
	req.Header.Set("X-Client-Id", "client-a")
	r.ServeHTTP(w, req)
	return w
}

func ownerKeyForTests() string { return auth.DeriveOwnerKey("test-secret", "client-a") }

func TestFirstContactCreatesPendingAndEnqueues(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	r := newTestRouter(store, pub)

	w := doSubmit(r, "req-1", true)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if hint := w.Header().Get(protocol.HeaderRetryHint); hint != "1000" {
		t.Fatalf("expected retry hint 1000, got %q", hint)
	}
	var body struct {
		RequestID string `json:"request_id"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body.RequestID != "req-1" || body.Status != requests.StatusPending {
		t.Fatalf("body mismatch: %+v", body)
	}

	rec, _ := store.Get(context.Background(), ownerKeyForTests(), "req-1")
	if rec == nil || rec.Status != requests.StatusPending {
		t.Fatalf("expected PENDING record, got %+v", rec)
	}

	if len(pub.sent) != 1 {
		t.Fatalf("expected 1 enqueue, got %d", len(pub.sent))
	}
	msg := pub.sent[0]
	if msg.RequestID != "req-1" || msg.OwnerKey != ownerKeyForTests() {
		t.Fatalf("message mismatch: %+v", msg)
	}
	if strings.Contains(string(msg.Payload), "PL5260250274") {
		t.Fatalf("tax id must be masked before enqueue: %s", msg.Payload)
	}
}

func TestFirstContactMintsRequestID(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	r := newTestRouter(store, pub)

	w := doSubmit(r, "", true)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	var body struct {
		RequestID string `json:"request_id"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.RequestID == "" {
		t.Fatalf("expected minted request id in body")
	}
	if len(pub.sent) != 1 || pub.sent[0].RequestID != body.RequestID {
		t.Fatalf("enqueue should carry the minted id: %+v", pub.sent)
	}
}

func TestRepeatContactDoesNotReenqueue(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	r := newTestRouter(store, pub)

	doSubmit(r, "req-1", true)
	// client retried its first contact after a network timeout; the
	// initial marker is still set, the record already exists
	w := doSubmit(r, "req-1", true)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	// a plain poll-by-POST with the marker stripped
	w = doSubmit(r, "req-1", false)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected exactly 1 enqueue, got %d", len(pub.sent))
	}
}

func TestPollCompletedReturnsResult(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	r := newTestRouter(store, pub)

	doSubmit(r, "req-1", true)
	store.Put(context.Background(), ownerKeyForTests(), "req-1", requests.StatusCompleted, json.RawMessage(`{"x":1}`))

	w := doPoll(r, "req-1")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != `{"x":1}` {
		t.Fatalf("expected result body verbatim, got %s", w.Body.String())
	}
}

func TestPollFailedMapsErrorStatus(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	r := newTestRouter(store, pub)

	doSubmit(r, "req-1", true)
	store.Put(context.Background(), ownerKeyForTests(), "req-1", requests.StatusFailed, json.RawMessage(`{"reason":"upstream timeout"}`))

	w := doPoll(r, "req-1")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "upstream timeout") {
		t.Fatalf("expected reason in body, got %s", w.Body.String())
	}

	// authority rejections carry a code and map to 422
	store.Put(context.Background(), ownerKeyForTests(), "req-1", requests.StatusFailed, json.RawMessage(`{"code":"INVALID_TAX_ID","reason":"rejected"}`))
	w = doPoll(r, "req-1")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestEnqueueFailureFlipsRecordToFailed(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{fail: true}
	r := newTestRouter(store, pub)

	w := doSubmit(r, "req-1", true)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	rec, _ := store.Get(context.Background(), ownerKeyForTests(), "req-1")
	if rec == nil || rec.Status != requests.StatusFailed {
		t.Fatalf("expected FAILED record after dispatch failure, got %+v", rec)
	}
	if !strings.Contains(string(rec.Error), "dispatch failed") {
		t.Fatalf("expected dispatch failed reason, got %s", rec.Error)
	}
}

func TestStoreUnavailableSurfacesAs503(t *testing.T) {
	store := newFakeStore()
	store.failAll = true
	r := newTestRouter(store, &fakePublisher{})

	if w := doSubmit(r, "req-1", true); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on submit, got %d", w.Code)
	}
	if w := doPoll(r, "req-1"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on poll, got %d", w.Code)
	}
}

func TestValidationRejectsBeforeAnyRecord(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	r := newTestRouter(store, pub)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/clearances", strings.NewReader(`{"invoice_id":""}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Id", "client-a")
	req.Header.Set(protocol.HeaderRequestID, "req-1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(store.recs) != 0 {
		t.Fatalf("no record may exist after a rejected submission")
	}
	if len(pub.sent) != 0 {
		t.Fatalf("nothing may be enqueued for a rejected submission")
	}
}

func TestPollUnknownRequestIs404(t *testing.T) {
	r := newTestRouter(newFakeStore(), &fakePublisher{})
	if w := doPoll(r, "nope"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRetryHintNarrowsWithAge(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	r := newTestRouter(store, pub)

	// record created a minute ago and still pending
	store.nowFunc = func() time.Time { return time.Now().Add(-time.Minute) }
	doSubmit(r, "req-1", true)
	store.nowFunc = time.Now

	w := doPoll(r, "req-1")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if hint := w.Header().Get(protocol.HeaderRetryHint); hint != "500" {
		t.Fatalf("expected narrowed hint 500, got %q", hint)
	}
}
