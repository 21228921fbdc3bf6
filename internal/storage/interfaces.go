package storage

import (
	"context"

	"solana-trade-relay/internal/domain"
)

// TradeStore is the event store the trade worker writes to. Apply is
// the single mutating operation; the rest are read paths for API
// consumers and tests.
type TradeStore interface {
	// Apply atomically records one trade event: insert into trades
	// (skipping on duplicate signature), upsert the minute candle,
	// apply the signed holder delta, and prune holders whose balance
	// dropped to zero or below. Returns applied=false (and no error)
	// when the signature was already recorded; candle and holder state
	// are untouched in that case.
	Apply(ctx context.Context, ev *domain.TradeEvent) (applied bool, err error)

	// GetTrade retrieves a trade by signature. Returns ErrNotFound if absent.
	GetTrade(ctx context.Context, signature string) (*domain.Trade, error)

	// GetTradesByMint retrieves all trades for a mint, ordered by timestamp ASC.
	GetTradesByMint(ctx context.Context, mint string) ([]*domain.Trade, error)

	// GetCandle retrieves the candle at (mint, bucketStart). Returns
	// ErrNotFound if no trade has landed in that bucket.
	GetCandle(ctx context.Context, mint string, bucketStart int64) (*domain.Candle, error)

	// GetCandlesByMint retrieves all candles for a mint, ordered by bucket ASC.
	GetCandlesByMint(ctx context.Context, mint string) ([]*domain.Candle, error)

	// GetHolders retrieves current holders of a mint, largest balance
	// first. Every returned amount is strictly positive.
	GetHolders(ctx context.Context, mint string) ([]*domain.Holder, error)
}

// TickArchive receives an append-only copy of every accepted trade for
// analytics queries. Writes are best-effort and batched; losing a tick
// never fails the trade that produced it.
type TickArchive interface {
	// Append buffers one trade tick for insertion.
	Append(ctx context.Context, t *domain.Trade) error

	// Flush forces buffered ticks to the backing store.
	Flush(ctx context.Context) error
}
