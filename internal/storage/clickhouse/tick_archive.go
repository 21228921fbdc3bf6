package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"solana-trade-relay/internal/domain"
	"solana-trade-relay/internal/observability"
	"solana-trade-relay/internal/storage"
)

// defaultBatchSize triggers an automatic flush once enough ticks are
// buffered. Tuned for insert batches ClickHouse merges cheaply.
const defaultBatchSize = 500

// TickArchive implements storage.TickArchive using ClickHouse. Ticks
// are buffered in memory and written in batches; the caller is
// expected to Flush on a timer and at shutdown.
type TickArchive struct {
	conn      *Conn
	batchSize int

	mu     sync.Mutex
	buffer []*domain.Trade
}

// NewTickArchive creates a new TickArchive. batchSize <= 0 uses the
// default.
func NewTickArchive(conn *Conn, batchSize int) *TickArchive {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &TickArchive{conn: conn, batchSize: batchSize}
}

// Compile-time interface check.
var _ storage.TickArchive = (*TickArchive)(nil)

// Append buffers one trade tick, flushing when the batch is full.
func (a *TickArchive) Append(ctx context.Context, t *domain.Trade) error {
	a.mu.Lock()
	a.buffer = append(a.buffer, t)
	full := len(a.buffer) >= a.batchSize
	a.mu.Unlock()

	if full {
		return a.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered ticks. The buffer is drained before the
// insert; a failed insert drops the batch rather than retrying, since
// the primary store already holds every trade.
func (a *TickArchive) Flush(ctx context.Context) error {
	a.mu.Lock()
	pending := a.buffer
	a.buffer = nil
	a.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO trade_ticks (
			signature, mint, trader, side, token_amount, sol_amount, price, timestamp, slot, created_at
		)
	`)
	if err != nil {
		observability.RecordArchiveError()
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range pending {
		err = batch.Append(
			t.Signature, t.Mint, t.Trader, t.Side,
			t.TokenAmount, t.SolAmount, t.Price,
			t.Timestamp, t.Slot, t.CreatedAt,
		)
		if err != nil {
			observability.RecordArchiveError()
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		observability.RecordArchiveError()
		return fmt.Errorf("send batch: %w", err)
	}

	observability.RecordTickArchived(len(pending))
	return nil
}

// RunFlusher flushes every interval until ctx is cancelled, then
// performs one final flush so shutdown does not strand buffered ticks.
func (a *TickArchive) RunFlusher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = a.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			_ = a.Flush(ctx)
		}
	}
}
