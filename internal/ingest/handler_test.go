package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"solana-trade-relay/internal/domain"
	"solana-trade-relay/internal/parser"
	"solana-trade-relay/internal/queue"
)

const (
	testMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testPool   = "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1"
	testTrader = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
)

func swapNotification(sig string) domain.RawNotification {
	return domain.RawNotification{
		Signature: sig,
		Slot:      100,
		Timestamp: 1700000000,
		FeePayer:  testTrader,
		TokenTransfers: []domain.TokenTransfer{
			{Mint: parser.WSOL, FromUserAccount: testTrader, ToUserAccount: testPool, TokenAmount: decimal.NewFromInt(4000000)},
			{Mint: testMint, FromUserAccount: testPool, ToUserAccount: testTrader, TokenAmount: decimal.NewFromInt(1000)},
		},
	}
}

func postBatch(t *testing.T, h *Handler, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newTestHandler(q queue.Queue) *Handler {
	return NewHandler(parser.New(nil), NewMemoryDeduper(0), q, nil)
}

func TestHandler_AcceptsBatch(t *testing.T) {
	q := queue.NewMemoryQueue(16)
	h := newTestHandler(q)

	body, _ := json.Marshal([]domain.RawNotification{
		swapNotification("sig1"),
		swapNotification("sig2"),
	})
	rec := postBatch(t, h, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status: got %d, want 200", rec.Code)
	}

	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	if resp.Accepted != 2 || resp.Deduplicated != 0 {
		t.Errorf("Response: %+v, want 2 accepted", resp)
	}
	if got := q.Len(); got != 2 {
		t.Errorf("Queued jobs: got %d, want 2", got)
	}
}

func TestHandler_RejectsMalformedBody(t *testing.T) {
	q := queue.NewMemoryQueue(16)
	h := newTestHandler(q)

	rec := postBatch(t, h, []byte("{not json"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status: got %d, want 400", rec.Code)
	}
	if q.Len() != 0 {
		t.Error("Malformed request had side effects")
	}
}

func TestHandler_RejectsEmptyBatch(t *testing.T) {
	q := queue.NewMemoryQueue(16)
	h := newTestHandler(q)

	for _, body := range [][]byte{[]byte("[]"), nil} {
		rec := postBatch(t, h, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Status for %q: got %d, want 400", body, rec.Code)
		}
	}
	if q.Len() != 0 {
		t.Error("Empty batch had side effects")
	}
}

func TestHandler_RejectsWrongMethod(t *testing.T) {
	h := newTestHandler(queue.NewMemoryQueue(16))

	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status: got %d, want 405", rec.Code)
	}
}

func TestHandler_DeduplicatesRetries(t *testing.T) {
	q := queue.NewMemoryQueue(16)
	h := newTestHandler(q)

	body, _ := json.Marshal([]domain.RawNotification{swapNotification("sig1")})

	rec := postBatch(t, h, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("First request: got %d", rec.Code)
	}

	// Provider retry with the same signature.
	rec = postBatch(t, h, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Retry request: got %d", rec.Code)
	}

	var resp webhookResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Accepted != 0 || resp.Deduplicated != 1 {
		t.Errorf("Retry response: %+v, want 1 deduplicated", resp)
	}
	if got := q.Len(); got != 1 {
		t.Errorf("Queued jobs after retry: got %d, want 1", got)
	}
}

func TestHandler_UnparseableNotificationsSkipped(t *testing.T) {
	q := queue.NewMemoryQueue(16)
	h := newTestHandler(q)

	batch := []domain.RawNotification{
		swapNotification("sig1"),
		{Signature: "sig2", FeePayer: testTrader}, // no transfers, not a swap
	}
	body, _ := json.Marshal(batch)

	rec := postBatch(t, h, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Status: got %d, want 200", rec.Code)
	}

	var resp webhookResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Accepted != 1 || resp.Skipped != 1 {
		t.Errorf("Response: %+v, want 1 accepted 1 skipped", resp)
	}
}

type failQueue struct{}

func (failQueue) Enqueue(context.Context, []queue.Job) error {
	return errors.New("redis down")
}

func (failQueue) Consume(context.Context, queue.Options, queue.Handler) error {
	return nil
}

func TestHandler_EnqueueFailureIs500(t *testing.T) {
	h := newTestHandler(failQueue{})

	body, _ := json.Marshal([]domain.RawNotification{swapNotification("sig1")})
	rec := postBatch(t, h, body)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status: got %d, want 500", rec.Code)
	}
}

// flakyQueue fails the first Enqueue and delegates afterwards.
type flakyQueue struct {
	inner    queue.Queue
	failures int
}

func (q *flakyQueue) Enqueue(ctx context.Context, jobs []queue.Job) error {
	if q.failures > 0 {
		q.failures--
		return errors.New("redis down")
	}
	return q.inner.Enqueue(ctx, jobs)
}

func (q *flakyQueue) Consume(ctx context.Context, opts queue.Options, h queue.Handler) error {
	return q.inner.Consume(ctx, opts, h)
}

func TestHandler_EnqueueFailureDoesNotPoisonRetry(t *testing.T) {
	mq := queue.NewMemoryQueue(16)
	q := &flakyQueue{inner: mq, failures: 1}
	h := newTestHandler(q)

	body, _ := json.Marshal([]domain.RawNotification{swapNotification("sig1")})

	rec := postBatch(t, h, body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("First request: got %d, want 500", rec.Code)
	}

	// The provider retries the failed batch; nothing about the failed
	// attempt may count the signature as already enqueued.
	rec = postBatch(t, h, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Retry request: got %d, want 200", rec.Code)
	}

	var resp webhookResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Accepted != 1 || resp.Deduplicated != 0 {
		t.Errorf("Retry response: %+v, want 1 accepted 0 deduplicated", resp)
	}
	if got := mq.Len(); got != 1 {
		t.Errorf("Queued jobs after retry: got %d, want 1", got)
	}
}
