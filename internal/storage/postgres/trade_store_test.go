package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-trade-relay/internal/domain"
	"solana-trade-relay/internal/storage"
	"solana-trade-relay/internal/storage/postgres"
)

func buyEvent(signature, mint, trader string, sol, tokens float64, ts int64) *domain.TradeEvent {
	solAmount := decimal.NewFromFloat(sol)
	tokenAmount := decimal.NewFromFloat(tokens)
	return &domain.TradeEvent{
		Side:        domain.TradeSideBuy,
		Signature:   signature,
		Trader:      trader,
		Mint:        mint,
		TokenAmount: tokenAmount,
		SolAmount:   solAmount,
		Price:       solAmount.Div(tokenAmount),
		Timestamp:   ts,
		Slot:        100,
	}
}

func sellEvent(signature, mint, trader string, sol, tokens float64, ts int64) *domain.TradeEvent {
	ev := buyEvent(signature, mint, trader, sol, tokens, ts)
	ev.Side = domain.TradeSideSell
	return ev
}

func TestTradeStore_ApplyAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewTradeStore(pool)

	ev := buyEvent("sig1", "mint1", "trader1", 4000000, 1000, 1700000000)

	applied, err := store.Apply(ctx, ev)
	require.NoError(t, err)
	assert.True(t, applied)

	trade, err := store.GetTrade(ctx, "sig1")
	require.NoError(t, err)
	assert.Equal(t, "mint1", trade.Mint)
	assert.Equal(t, "trader1", trade.Trader)
	assert.Equal(t, domain.TradeSideBuy, trade.Side)
	assert.True(t, trade.TokenAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, trade.SolAmount.Equal(decimal.NewFromInt(4000000)))
	assert.True(t, trade.Price.Equal(decimal.NewFromInt(4000)))
	assert.NotZero(t, trade.CreatedAt)
}

func TestTradeStore_ApplyDuplicateIsNoop(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewTradeStore(pool)

	ev := buyEvent("sig1", "mint1", "trader1", 100, 50, 1700000000)

	applied, err := store.Apply(ctx, ev)
	require.NoError(t, err)
	require.True(t, applied)

	// Redelivery of the same signature must not touch candle or holder state.
	applied, err = store.Apply(ctx, ev)
	require.NoError(t, err)
	assert.False(t, applied)

	candle, err := store.GetCandle(ctx, "mint1", domain.MinuteBucket(1700000000))
	require.NoError(t, err)
	assert.Equal(t, int64(1), candle.TradeCount)
	assert.True(t, candle.Volume.Equal(decimal.NewFromInt(50)))

	holders, err := store.GetHolders(ctx, "mint1")
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.True(t, holders[0].Amount.Equal(decimal.NewFromInt(50)))
}

func TestTradeStore_CandleAggregation(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewTradeStore(pool)

	// Three trades in the same minute bucket at prices 10, 30, 20.
	base := int64(1700000000) - int64(1700000000)%60
	events := []*domain.TradeEvent{
		buyEvent("sig1", "mint1", "t1", 1000, 100, base+1),  // price 10
		buyEvent("sig2", "mint1", "t2", 3000, 100, base+20), // price 30
		buyEvent("sig3", "mint1", "t3", 2000, 100, base+59), // price 20
	}
	for _, ev := range events {
		applied, err := store.Apply(ctx, ev)
		require.NoError(t, err)
		require.True(t, applied)
	}

	candle, err := store.GetCandle(ctx, "mint1", base)
	require.NoError(t, err)
	assert.True(t, candle.Open.Equal(decimal.NewFromInt(10)), "open %s", candle.Open)
	assert.True(t, candle.High.Equal(decimal.NewFromInt(30)), "high %s", candle.High)
	assert.True(t, candle.Low.Equal(decimal.NewFromInt(10)), "low %s", candle.Low)
	assert.True(t, candle.Close.Equal(decimal.NewFromInt(20)), "close %s", candle.Close)
	assert.True(t, candle.Volume.Equal(decimal.NewFromInt(300)), "volume %s", candle.Volume)
	assert.Equal(t, int64(3), candle.TradeCount)

	// A trade in the next minute opens a new candle.
	applied, err := store.Apply(ctx, buyEvent("sig4", "mint1", "t1", 500, 100, base+60))
	require.NoError(t, err)
	require.True(t, applied)

	candles, err := store.GetCandlesByMint(ctx, "mint1")
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, base, candles[0].BucketStart)
	assert.Equal(t, base+60, candles[1].BucketStart)
	assert.Equal(t, int64(1), candles[1].TradeCount)
}

func TestTradeStore_HolderBalances(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewTradeStore(pool)

	apply := func(ev *domain.TradeEvent) {
		t.Helper()
		applied, err := store.Apply(ctx, ev)
		require.NoError(t, err)
		require.True(t, applied)
	}

	apply(buyEvent("sig1", "mint1", "alice", 100, 500, 1700000000))
	apply(buyEvent("sig2", "mint1", "bob", 100, 200, 1700000010))
	apply(sellEvent("sig3", "mint1", "alice", 50, 300, 1700000020))

	holders, err := store.GetHolders(ctx, "mint1")
	require.NoError(t, err)
	require.Len(t, holders, 2)

	// Equal balances fall back to address order.
	assert.Equal(t, "alice", holders[0].Address)
	assert.True(t, holders[0].Amount.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, "bob", holders[1].Address)
	assert.True(t, holders[1].Amount.Equal(decimal.NewFromInt(200)))
}

func TestTradeStore_HolderPrunedAtZero(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewTradeStore(pool)

	applied, err := store.Apply(ctx, buyEvent("sig1", "mint1", "alice", 100, 500, 1700000000))
	require.NoError(t, err)
	require.True(t, applied)

	// Selling the full position removes the holder row.
	applied, err = store.Apply(ctx, sellEvent("sig2", "mint1", "alice", 100, 500, 1700000010))
	require.NoError(t, err)
	require.True(t, applied)

	holders, err := store.GetHolders(ctx, "mint1")
	require.NoError(t, err)
	assert.Empty(t, holders)

	// Selling more than held also prunes rather than going negative.
	applied, err = store.Apply(ctx, buyEvent("sig3", "mint1", "bob", 100, 100, 1700000020))
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = store.Apply(ctx, sellEvent("sig4", "mint1", "bob", 200, 200, 1700000030))
	require.NoError(t, err)
	require.True(t, applied)

	holders, err = store.GetHolders(ctx, "mint1")
	require.NoError(t, err)
	assert.Empty(t, holders)
}

func TestTradeStore_GetTradeNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewTradeStore(pool)

	_, err := store.GetTrade(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	_, err = store.GetCandle(ctx, "mint1", 0)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestTradeStore_GetTradesByMintOrdered(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewTradeStore(pool)

	for _, ev := range []*domain.TradeEvent{
		buyEvent("sig3", "mint1", "t1", 100, 100, 1700000200),
		buyEvent("sig1", "mint1", "t1", 100, 100, 1700000000),
		buyEvent("sig2", "mint1", "t1", 100, 100, 1700000100),
		buyEvent("sig4", "mint2", "t1", 100, 100, 1700000050),
	} {
		_, err := store.Apply(ctx, ev)
		require.NoError(t, err)
	}

	trades, err := store.GetTradesByMint(ctx, "mint1")
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "sig1", trades[0].Signature)
	assert.Equal(t, "sig2", trades[1].Signature)
	assert.Equal(t, "sig3", trades[2].Signature)
}
