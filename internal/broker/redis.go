package broker

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker on Redis Pub/Sub. All channel
// subscriptions share one Pub/Sub connection; adding and removing
// channels adjusts that connection in place.
type RedisBroker struct {
	client *redis.Client
	logger *log.Logger

	pubsub *redis.PubSub
	out    chan Message

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewRedisBroker creates a RedisBroker and starts its delivery loop.
func NewRedisBroker(client *redis.Client, logger *log.Logger) *RedisBroker {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	b := &RedisBroker{
		client: client,
		logger: logger,
		pubsub: client.Subscribe(context.Background()),
		out:    make(chan Message, 256),
		done:   make(chan struct{}),
	}
	go b.deliverLoop()
	return b
}

var _ Broker = (*RedisBroker)(nil)

// Publish sends payload to channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe adds channel to the shared Pub/Sub connection.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("broker closed")
	}
	if err := b.pubsub.Subscribe(ctx, channel); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return nil
}

// Unsubscribe removes channel from the shared Pub/Sub connection.
func (b *RedisBroker) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if err := b.pubsub.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	return nil
}

// Messages returns the delivery stream.
func (b *RedisBroker) Messages() <-chan Message {
	return b.out
}

// Close shuts down the Pub/Sub connection and the delivery stream.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.pubsub.Close()
	<-b.done
	close(b.out)
	return err
}

func (b *RedisBroker) deliverLoop() {
	defer close(b.done)
	ch := b.pubsub.Channel()
	for msg := range ch {
		select {
		case b.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
		default:
			b.logger.Printf("[broker] delivery buffer full, dropping message on %s", msg.Channel)
		}
	}
}
