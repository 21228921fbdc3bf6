// Package broker provides publish/subscribe fan-out between the trade
// workers and the WebSocket layer. Channels are keyed by token mint.
package broker

import "context"

// Message is a single payload delivered on a subscribed channel.
type Message struct {
	Channel string
	Payload []byte
}

// Broker publishes payloads to named channels and delivers messages
// for the channels the process is subscribed to on a single stream.
type Broker interface {
	// Publish sends payload to every subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe starts delivery for channel. Subscribing to a channel
	// twice is a no-op.
	Subscribe(ctx context.Context, channel string) error

	// Unsubscribe stops delivery for channel.
	Unsubscribe(ctx context.Context, channel string) error

	// Messages returns the delivery stream. The channel is closed
	// when the broker shuts down.
	Messages() <-chan Message

	// Close shuts the broker down and releases its resources.
	Close() error
}
