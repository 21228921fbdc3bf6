package broker

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBroker is an in-process Broker used by tests and --use-memory
// mode. Publishes to channels this broker is subscribed to are
// delivered on the Messages stream; other publishes are dropped.
type MemoryBroker struct {
	mu       sync.Mutex
	channels map[string]struct{}
	closed   bool

	out chan Message
}

// NewMemoryBroker creates an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		channels: make(map[string]struct{}),
		out:      make(chan Message, 256),
	}
}

var _ Broker = (*MemoryBroker)(nil)

// Publish delivers payload if channel has a subscription.
func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("broker closed")
	}
	if _, ok := b.channels[channel]; !ok {
		return nil
	}
	select {
	case b.out <- Message{Channel: channel, Payload: payload}:
	default:
	}
	return nil
}

// Subscribe starts delivery for channel.
func (b *MemoryBroker) Subscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("broker closed")
	}
	b.channels[channel] = struct{}{}
	return nil
}

// Unsubscribe stops delivery for channel.
func (b *MemoryBroker) Unsubscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, channel)
	return nil
}

// Messages returns the delivery stream.
func (b *MemoryBroker) Messages() <-chan Message {
	return b.out
}

// Close shuts down the delivery stream.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.out)
	return nil
}

// Subscribed reports whether channel currently has a subscription.
func (b *MemoryBroker) Subscribed(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.channels[channel]
	return ok
}
