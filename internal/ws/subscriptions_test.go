package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"solana-trade-relay/internal/broker"
)

func testConn(id string) *Conn {
	return &Conn{ID: id, send: make(chan []byte, sendQueueSize)}
}

func TestSubscriptionManager_UpstreamOpensOnFirstSubscriber(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	m := NewSubscriptionManager(b)
	ctx := context.Background()

	c1 := testConn("c1")
	c2 := testConn("c2")

	if err := m.Subscribe(ctx, c1, "mint1"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if !b.Subscribed("mint1") {
		t.Fatal("Expected upstream subscription after first subscriber")
	}

	if err := m.Subscribe(ctx, c2, "mint1"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if got := m.Subscribers("mint1"); got != 2 {
		t.Errorf("Expected 2 subscribers, got %d", got)
	}

	// Removing one of two keeps the upstream subscription open.
	if err := m.Unsubscribe(ctx, c1, "mint1"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if !b.Subscribed("mint1") {
		t.Error("Upstream closed while a subscriber remains")
	}

	// Removing the last one closes it.
	if err := m.Unsubscribe(ctx, c2, "mint1"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if b.Subscribed("mint1") {
		t.Error("Upstream open with no subscribers")
	}
}

func TestSubscriptionManager_SubscribeIdempotent(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	m := NewSubscriptionManager(b)
	ctx := context.Background()

	c1 := testConn("c1")
	for i := 0; i < 3; i++ {
		if err := m.Subscribe(ctx, c1, "mint1"); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}
	if got := m.Subscribers("mint1"); got != 1 {
		t.Errorf("Expected 1 subscriber after repeat subscribes, got %d", got)
	}

	// One unsubscribe fully removes it.
	if err := m.Unsubscribe(ctx, c1, "mint1"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if b.Subscribed("mint1") {
		t.Error("Upstream open after last unsubscribe")
	}
}

func TestSubscriptionManager_DropRemovesAll(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	m := NewSubscriptionManager(b)
	ctx := context.Background()

	c1 := testConn("c1")
	c2 := testConn("c2")

	for _, channel := range []string{"mint1", "mint2", "mint3"} {
		if err := m.Subscribe(ctx, c1, channel); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}
	if err := m.Subscribe(ctx, c2, "mint2"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	m.Drop(ctx, c1)

	if len(m.Channels(c1)) != 0 {
		t.Errorf("Dropped connection still has channels: %v", m.Channels(c1))
	}
	if b.Subscribed("mint1") || b.Subscribed("mint3") {
		t.Error("Channels with no remaining subscribers left open upstream")
	}
	if !b.Subscribed("mint2") {
		t.Error("Channel with a remaining subscriber was closed upstream")
	}
}

func TestSubscriptionManager_DispatchExactFanout(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	m := NewSubscriptionManager(b)
	ctx := context.Background()

	c1 := testConn("c1")
	c2 := testConn("c2")
	c3 := testConn("c3")

	if err := m.Subscribe(ctx, c1, "mint1"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := m.Subscribe(ctx, c2, "mint1"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := m.Subscribe(ctx, c3, "mint2"); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	m.Dispatch(broker.Message{Channel: "mint1", Payload: []byte(`{"signature":"sig1"}`)})

	for _, c := range []*Conn{c1, c2} {
		select {
		case data := <-c.send:
			var msg TradeMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("Bad frame for %s: %v", c.ID, err)
			}
			if msg.Type != TypeTrade || msg.Channel != "mint1" {
				t.Errorf("%s: wrong envelope %+v", c.ID, msg)
			}
		default:
			t.Errorf("Subscriber %s got nothing", c.ID)
		}
	}

	select {
	case <-c3.send:
		t.Error("Non-subscriber received the message")
	default:
	}
}

func TestSubscriptionManager_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	b := broker.NewMemoryBroker()
	defer b.Close()
	m := NewSubscriptionManager(b)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		c := testConn(string(rune('a' + i)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.Subscribe(ctx, c, "mint1")
				m.Unsubscribe(ctx, c, "mint1")
			}
		}()
	}
	wg.Wait()

	// After every goroutine balanced its subscribes, the index must be
	// empty and the upstream subscription closed.
	if got := m.Subscribers("mint1"); got != 0 {
		t.Errorf("Expected 0 subscribers, got %d", got)
	}
	if b.Subscribed("mint1") {
		t.Error("Upstream subscription leaked")
	}
}
