package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-trade-relay/internal/domain"
	"solana-trade-relay/internal/observability"
	"solana-trade-relay/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Apply records one trade event in a single transaction. The insert
// into trades is the idempotency gate: when the signature already
// exists the transaction performs no other writes and Apply reports
// applied=false, so a redelivered job cannot double-count the candle
// or the holder balance.
func (s *TradeStore) Apply(ctx context.Context, ev *domain.TradeEvent) (bool, error) {
	start := time.Now()
	applied, err := s.apply(ctx, ev)
	observability.RecordDBQuery("postgres", "apply_trade", time.Since(start).Seconds(), err)
	return applied, err
}

func (s *TradeStore) apply(ctx context.Context, ev *domain.TradeEvent) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO trades (signature, mint, trader, side, token_amount, sol_amount, price, timestamp, slot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (signature) DO NOTHING
	`,
		ev.Signature,
		ev.Mint,
		ev.Trader,
		ev.Side,
		ev.TokenAmount,
		ev.SolAmount,
		ev.Price,
		ev.Timestamp,
		ev.Slot,
	)
	if err != nil {
		return false, fmt.Errorf("insert trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO candles (mint, bucket_start, open, high, low, close, volume, trade_count)
		VALUES ($1, $2, $3, $3, $3, $3, $4, 1)
		ON CONFLICT (mint, bucket_start) DO UPDATE SET
			high = GREATEST(candles.high, EXCLUDED.high),
			low = LEAST(candles.low, EXCLUDED.low),
			close = EXCLUDED.close,
			volume = candles.volume + EXCLUDED.volume,
			trade_count = candles.trade_count + 1
	`,
		ev.Mint,
		domain.MinuteBucket(ev.Timestamp),
		ev.Price,
		ev.TokenAmount,
	)
	if err != nil {
		return false, fmt.Errorf("upsert candle: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO holders (mint, address, amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mint, address) DO UPDATE SET
			amount = holders.amount + EXCLUDED.amount,
			updated_at = EXCLUDED.updated_at
	`,
		ev.Mint,
		ev.Trader,
		ev.HolderDelta(),
		ev.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("upsert holder: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM holders WHERE mint = $1 AND address = $2 AND amount <= 0
	`, ev.Mint, ev.Trader)
	if err != nil {
		return false, fmt.Errorf("prune holder: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// GetTrade retrieves a trade by signature. Returns ErrNotFound if absent.
func (s *TradeStore) GetTrade(ctx context.Context, signature string) (*domain.Trade, error) {
	query := `
		SELECT signature, mint, trader, side, token_amount, sol_amount, price, timestamp, slot, created_at
		FROM trades
		WHERE signature = $1
	`

	var t domain.Trade
	err := s.pool.QueryRow(ctx, query, signature).Scan(
		&t.Signature,
		&t.Mint,
		&t.Trader,
		&t.Side,
		&t.TokenAmount,
		&t.SolAmount,
		&t.Price,
		&t.Timestamp,
		&t.Slot,
		&t.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return &t, nil
}

// GetTradesByMint retrieves all trades for a mint, ordered by timestamp ASC.
func (s *TradeStore) GetTradesByMint(ctx context.Context, mint string) ([]*domain.Trade, error) {
	query := `
		SELECT signature, mint, trader, side, token_amount, sol_amount, price, timestamp, slot, created_at
		FROM trades
		WHERE mint = $1
		ORDER BY timestamp ASC, signature ASC
	`

	rows, err := s.pool.Query(ctx, query, mint)
	if err != nil {
		return nil, fmt.Errorf("get trades by mint: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetCandle retrieves the candle at (mint, bucketStart). Returns ErrNotFound if absent.
func (s *TradeStore) GetCandle(ctx context.Context, mint string, bucketStart int64) (*domain.Candle, error) {
	query := `
		SELECT mint, bucket_start, open, high, low, close, volume, trade_count
		FROM candles
		WHERE mint = $1 AND bucket_start = $2
	`

	var c domain.Candle
	err := s.pool.QueryRow(ctx, query, mint, bucketStart).Scan(
		&c.Mint,
		&c.BucketStart,
		&c.Open,
		&c.High,
		&c.Low,
		&c.Close,
		&c.Volume,
		&c.TradeCount,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get candle: %w", err)
	}
	return &c, nil
}

// GetCandlesByMint retrieves all candles for a mint, ordered by bucket ASC.
func (s *TradeStore) GetCandlesByMint(ctx context.Context, mint string) ([]*domain.Candle, error) {
	query := `
		SELECT mint, bucket_start, open, high, low, close, volume, trade_count
		FROM candles
		WHERE mint = $1
		ORDER BY bucket_start ASC
	`

	rows, err := s.pool.Query(ctx, query, mint)
	if err != nil {
		return nil, fmt.Errorf("get candles by mint: %w", err)
	}
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		var c domain.Candle
		err := rows.Scan(
			&c.Mint,
			&c.BucketStart,
			&c.Open,
			&c.High,
			&c.Low,
			&c.Close,
			&c.Volume,
			&c.TradeCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		candles = append(candles, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}

// GetHolders retrieves current holders of a mint, largest balance first.
func (s *TradeStore) GetHolders(ctx context.Context, mint string) ([]*domain.Holder, error) {
	query := `
		SELECT mint, address, amount, updated_at
		FROM holders
		WHERE mint = $1
		ORDER BY amount DESC, address ASC
	`

	rows, err := s.pool.Query(ctx, query, mint)
	if err != nil {
		return nil, fmt.Errorf("get holders: %w", err)
	}
	defer rows.Close()

	var holders []*domain.Holder
	for rows.Next() {
		var h domain.Holder
		if err := rows.Scan(&h.Mint, &h.Address, &h.Amount, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan holder row: %w", err)
		}
		holders = append(holders, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holder rows: %w", err)
	}
	return holders, nil
}

// scanTrades scans multiple rows into a slice of Trade.
func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var t domain.Trade

		err := rows.Scan(
			&t.Signature,
			&t.Mint,
			&t.Trader,
			&t.Side,
			&t.TokenAmount,
			&t.SolAmount,
			&t.Price,
			&t.Timestamp,
			&t.Slot,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}

		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
