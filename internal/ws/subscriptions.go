package ws

import (
	"context"
	"fmt"
	"sync"

	"solana-trade-relay/internal/broker"
	"solana-trade-relay/internal/observability"
)

// SubscriptionManager maintains the two-way index between connections
// and channels and keeps the broker subscription set in sync with it:
// the broker is subscribed to a channel exactly while at least one
// connection wants it. The lock is held across broker calls so the
// index and the broker never disagree under concurrent subscribes.
type SubscriptionManager struct {
	broker broker.Broker

	mu       sync.Mutex
	byChan   map[string]map[*Conn]struct{}
	byConn   map[*Conn]map[string]struct{}
	subCount int
}

// NewSubscriptionManager creates a manager backed by b.
func NewSubscriptionManager(b broker.Broker) *SubscriptionManager {
	return &SubscriptionManager{
		broker: b,
		byChan: make(map[string]map[*Conn]struct{}),
		byConn: make(map[*Conn]map[string]struct{}),
	}
}

// Subscribe registers conn on channel, opening the broker subscription
// if conn is the first subscriber.
func (m *SubscriptionManager) Subscribe(ctx context.Context, conn *Conn, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byConn[conn][channel]; ok {
		return nil
	}

	if len(m.byChan[channel]) == 0 {
		if err := m.broker.Subscribe(ctx, channel); err != nil {
			return fmt.Errorf("open upstream subscription: %w", err)
		}
	}

	if m.byChan[channel] == nil {
		m.byChan[channel] = make(map[*Conn]struct{})
	}
	if m.byConn[conn] == nil {
		m.byConn[conn] = make(map[string]struct{})
	}
	m.byChan[channel][conn] = struct{}{}
	m.byConn[conn][channel] = struct{}{}
	m.subCount++
	observability.UpdateWSSubscriptions(m.subCount)
	return nil
}

// Unsubscribe removes conn from channel, closing the broker
// subscription if conn was the last subscriber.
func (m *SubscriptionManager) Unsubscribe(ctx context.Context, conn *Conn, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribeLocked(ctx, conn, channel)
}

// Drop removes every subscription held by conn.
func (m *SubscriptionManager) Drop(ctx context.Context, conn *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for channel := range m.byConn[conn] {
		_ = m.unsubscribeLocked(ctx, conn, channel)
	}
	delete(m.byConn, conn)
}

func (m *SubscriptionManager) unsubscribeLocked(ctx context.Context, conn *Conn, channel string) error {
	if _, ok := m.byConn[conn][channel]; !ok {
		return nil
	}

	delete(m.byChan[channel], conn)
	delete(m.byConn[conn], channel)
	m.subCount--
	observability.UpdateWSSubscriptions(m.subCount)

	if len(m.byChan[channel]) == 0 {
		delete(m.byChan, channel)
		if err := m.broker.Unsubscribe(ctx, channel); err != nil {
			return fmt.Errorf("close upstream subscription: %w", err)
		}
	}
	return nil
}

// Dispatch fans msg out to every connection subscribed to its channel.
func (m *SubscriptionManager) Dispatch(msg broker.Message) {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.byChan[msg.Channel]))
	for conn := range m.byChan[msg.Channel] {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Deliver(msg.Channel, msg.Payload)
	}
}

// Channels returns the channels conn is subscribed to.
func (m *SubscriptionManager) Channels(conn *Conn) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.byConn[conn]))
	for channel := range m.byConn[conn] {
		out = append(out, channel)
	}
	return out
}

// Subscribers returns the number of connections on channel.
func (m *SubscriptionManager) Subscribers(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byChan[channel])
}
