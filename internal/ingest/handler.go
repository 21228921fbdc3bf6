package ingest

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"solana-trade-relay/internal/domain"
	"solana-trade-relay/internal/observability"
	"solana-trade-relay/internal/parser"
	"solana-trade-relay/internal/queue"
)

const maxBodyBytes = 8 << 20 // 8 MiB

// Handler accepts webhook notification batches at POST /webhook.
// A rejected request has no side effects: nothing is enqueued until
// the whole body has parsed.
type Handler struct {
	parser *parser.Parser
	dedup  Deduper
	queue  queue.Queue
	logger *log.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(p *parser.Parser, dedup Deduper, q queue.Queue, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Handler{parser: p, dedup: dedup, queue: q, logger: logger}
}

type webhookResponse struct {
	Accepted     int `json:"accepted"`
	Deduplicated int `json:"deduplicated"`
	Skipped      int `json:"skipped"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		observability.RecordWebhookRequest("method_not_allowed")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		observability.RecordWebhookRequest("read_error")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var batch []domain.RawNotification
	if err := json.Unmarshal(body, &batch); err != nil {
		observability.RecordWebhookRequest("malformed")
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if len(batch) == 0 {
		observability.RecordWebhookRequest("empty")
		http.Error(w, "empty batch", http.StatusBadRequest)
		return
	}
	observability.RecordNotificationsReceived(len(batch))

	events := h.parser.Parse(batch)
	observability.RecordTradesParsed(len(events))

	jobs := make([]queue.Job, 0, len(events))
	signatures := make([]string, 0, len(events))
	deduped := 0
	for _, ev := range events {
		seen, err := h.dedup.Seen(r.Context(), ev.Signature)
		if err != nil {
			// The queue's idempotency key catches what slips through,
			// so a dedup outage never drops a trade.
			h.logger.Printf("[ingest] dedup check failed for %s: %v", ev.Signature, err)
		} else if seen {
			observability.RecordDuplicateDropped()
			deduped++
			continue
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Printf("[ingest] encode trade %s: %v", ev.Signature, err)
			continue
		}
		jobs = append(jobs, queue.Job{ID: ev.Signature, Payload: payload})
		signatures = append(signatures, ev.Signature)
	}

	if len(jobs) > 0 {
		if err := h.queue.Enqueue(r.Context(), jobs); err != nil {
			observability.RecordWebhookRequest("enqueue_error")
			h.logger.Printf("[ingest] enqueue %d jobs: %v", len(jobs), err)
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		// Mark only after the enqueue is durable: a failed enqueue must
		// leave the window clean so the upstream retry is accepted.
		if err := h.dedup.Mark(r.Context(), signatures); err != nil {
			h.logger.Printf("[ingest] dedup mark failed: %v", err)
		}
	}

	observability.RecordWebhookRequest("ok")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(webhookResponse{
		Accepted:     len(jobs),
		Deduplicated: deduped,
		Skipped:      len(batch) - len(events),
	})
}
