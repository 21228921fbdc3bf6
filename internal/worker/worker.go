// Package worker consumes trade jobs from the queue, applies them to
// storage, and broadcasts applied trades to the broker.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"solana-trade-relay/internal/broker"
	"solana-trade-relay/internal/domain"
	"solana-trade-relay/internal/observability"
	"solana-trade-relay/internal/queue"
	"solana-trade-relay/internal/storage"
)

// Options configures a worker pool.
type Options struct {
	// Concurrency is the number of workers. Defaults to 5.
	Concurrency int

	// MaxAttempts is the per-job attempt ceiling. Defaults to 3.
	MaxAttempts int

	// Backoff is the base retry delay. Defaults to 1s.
	Backoff time.Duration
}

// Pool drains the job queue. Each job carries one trade event; the
// storage apply is the idempotency gate, so a redelivered job that was
// already applied is acked without broadcasting a second time.
type Pool struct {
	queue   queue.Queue
	store   storage.TradeStore
	broker  broker.Broker
	archive storage.TickArchive
	logger  *log.Logger
	opts    Options
}

// NewPool creates a worker pool. archive may be nil.
func NewPool(q queue.Queue, store storage.TradeStore, b broker.Broker, archive storage.TickArchive, opts Options, logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pool{
		queue:   q,
		store:   store,
		broker:  b,
		archive: archive,
		logger:  logger,
		opts:    opts,
	}
}

// Run consumes jobs until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	return p.queue.Consume(ctx, queue.Options{
		Concurrency: p.opts.Concurrency,
		MaxAttempts: p.opts.MaxAttempts,
		Backoff:     p.opts.Backoff,
	}, p.handle)
}

func (p *Pool) handle(ctx context.Context, job queue.Job) error {
	var ev domain.TradeEvent
	if err := json.Unmarshal(job.Payload, &ev); err != nil {
		// A payload that does not decode will never decode. Drop it
		// instead of burning retry attempts.
		observability.RecordWorkerError("decode")
		p.logger.Printf("[worker] job %s: undecodable payload, dropping: %v", job.ID, err)
		return nil
	}
	if !ev.Valid() {
		observability.RecordWorkerError("validate")
		p.logger.Printf("[worker] job %s: invalid trade event, dropping", job.ID)
		return nil
	}

	start := time.Now()
	applied, err := p.store.Apply(ctx, &ev)
	if err != nil {
		observability.RecordWorkerError("apply")
		return fmt.Errorf("apply trade %s: %w", ev.Signature, err)
	}
	observability.RecordTradeApplied(applied, time.Since(start).Seconds())

	if !applied {
		p.logger.Printf("[worker] trade %s already applied, skipping broadcast", ev.Signature)
		return nil
	}

	if p.archive != nil {
		if err := p.archive.Append(ctx, tradeFromEvent(ev)); err != nil {
			// Archive writes are best effort. The trade is durable in
			// the primary store either way.
			observability.RecordArchiveError()
			p.logger.Printf("[worker] trade %s: archive append failed: %v", ev.Signature, err)
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		observability.RecordWorkerError("encode")
		return fmt.Errorf("encode trade %s: %w", ev.Signature, err)
	}
	if err := p.broker.Publish(ctx, ev.Mint, payload); err != nil {
		// The trade is committed. A failed broadcast must not trigger
		// a redelivery that would skip the apply and broadcast nothing.
		observability.RecordWorkerError("publish")
		p.logger.Printf("[worker] trade %s: broadcast failed: %v", ev.Signature, err)
		return nil
	}
	observability.RecordTradeBroadcast()
	return nil
}

func tradeFromEvent(ev domain.TradeEvent) *domain.Trade {
	return &domain.Trade{
		Signature:   ev.Signature,
		Mint:        ev.Mint,
		Trader:      ev.Trader,
		Side:        ev.Side,
		TokenAmount: ev.TokenAmount,
		SolAmount:   ev.SolAmount,
		Price:       ev.Price,
		Timestamp:   ev.Timestamp,
		Slot:        ev.Slot,
		CreatedAt:   time.Now().Unix(),
	}
}
