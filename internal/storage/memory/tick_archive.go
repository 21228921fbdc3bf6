package memory

import (
	"context"
	"sync"

	"solana-trade-relay/internal/domain"
	"solana-trade-relay/internal/storage"
)

// TickArchive implements storage.TickArchive in memory.
type TickArchive struct {
	mu    sync.Mutex
	ticks []*domain.Trade
}

// NewTickArchive creates an empty TickArchive.
func NewTickArchive() *TickArchive {
	return &TickArchive{}
}

// Compile-time interface check.
var _ storage.TickArchive = (*TickArchive)(nil)

// Append records one trade tick.
func (a *TickArchive) Append(_ context.Context, t *domain.Trade) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	copied := *t
	a.ticks = append(a.ticks, &copied)
	return nil
}

// Flush is a no-op; ticks are recorded synchronously.
func (a *TickArchive) Flush(context.Context) error {
	return nil
}

// Ticks returns all recorded ticks in append order.
func (a *TickArchive) Ticks() []*domain.Trade {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*domain.Trade, len(a.ticks))
	copy(out, a.ticks)
	return out
}
