// Package memory provides in-memory store implementations for tests
// and for running the relay without external databases.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"solana-trade-relay/internal/domain"
	"solana-trade-relay/internal/storage"
)

type candleKey struct {
	mint        string
	bucketStart int64
}

type holderKey struct {
	mint    string
	address string
}

// TradeStore implements storage.TradeStore in memory. All three maps
// mutate under one lock, which gives Apply the same all-or-nothing
// behavior as the PostgreSQL transaction.
type TradeStore struct {
	mu      sync.RWMutex
	trades  map[string]*domain.Trade
	candles map[candleKey]*domain.Candle
	holders map[holderKey]*domain.Holder
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		trades:  make(map[string]*domain.Trade),
		candles: make(map[candleKey]*domain.Candle),
		holders: make(map[holderKey]*domain.Holder),
	}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Apply records one trade event. Returns applied=false when the
// signature was already recorded, leaving candles and holders untouched.
func (s *TradeStore) Apply(_ context.Context, ev *domain.TradeEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trades[ev.Signature]; exists {
		return false, nil
	}

	s.trades[ev.Signature] = &domain.Trade{
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

	ck := candleKey{mint: ev.Mint, bucketStart: domain.MinuteBucket(ev.Timestamp)}
	if candle, ok := s.candles[ck]; ok {
		candle.Merge(ev.Price, ev.TokenAmount)
	} else {
		s.candles[ck] = domain.NewCandle(ev.Mint, ck.bucketStart, ev.Price, ev.TokenAmount)
	}

	hk := holderKey{mint: ev.Mint, address: ev.Trader}
	holder, ok := s.holders[hk]
	if !ok {
		holder = &domain.Holder{Mint: ev.Mint, Address: ev.Trader}
		s.holders[hk] = holder
	}
	holder.Amount = holder.Amount.Add(ev.HolderDelta())
	holder.UpdatedAt = ev.Timestamp
	if !holder.Amount.IsPositive() {
		delete(s.holders, hk)
	}

	return true, nil
}

// GetTrade retrieves a trade by signature. Returns ErrNotFound if absent.
func (s *TradeStore) GetTrade(_ context.Context, signature string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[signature]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

// GetTradesByMint retrieves all trades for a mint, ordered by timestamp ASC.
func (s *TradeStore) GetTradesByMint(_ context.Context, mint string) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []*domain.Trade
	for _, t := range s.trades {
		if t.Mint == mint {
			copied := *t
			trades = append(trades, &copied)
		}
	}

	sort.Slice(trades, func(i, j int) bool {
		if trades[i].Timestamp != trades[j].Timestamp {
			return trades[i].Timestamp < trades[j].Timestamp
		}
		return trades[i].Signature < trades[j].Signature
	})
	return trades, nil
}

// GetCandle retrieves the candle at (mint, bucketStart). Returns ErrNotFound if absent.
func (s *TradeStore) GetCandle(_ context.Context, mint string, bucketStart int64) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.candles[candleKey{mint: mint, bucketStart: bucketStart}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

// GetCandlesByMint retrieves all candles for a mint, ordered by bucket ASC.
func (s *TradeStore) GetCandlesByMint(_ context.Context, mint string) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candles []*domain.Candle
	for key, c := range s.candles {
		if key.mint == mint {
			copied := *c
			candles = append(candles, &copied)
		}
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].BucketStart < candles[j].BucketStart
	})
	return candles, nil
}

// GetHolders retrieves current holders of a mint, largest balance first.
func (s *TradeStore) GetHolders(_ context.Context, mint string) ([]*domain.Holder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holders []*domain.Holder
	for key, h := range s.holders {
		if key.mint == mint {
			copied := *h
			holders = append(holders, &copied)
		}
	}

	sort.Slice(holders, func(i, j int) bool {
		if !holders[i].Amount.Equal(holders[j].Amount) {
			return holders[i].Amount.GreaterThan(holders[j].Amount)
		}
		return holders[i].Address < holders[j].Address
	})
	return holders, nil
}
