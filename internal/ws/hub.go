package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"solana-trade-relay/internal/broker"
	"solana-trade-relay/internal/observability"
)

const (
	writeTimeout  = 10 * time.Second
	sendQueueSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Conn is one WebSocket client connection. Writes go through a
// buffered queue drained by a single writer goroutine, so delivery to
// a slow client never blocks the fan-out path.
type Conn struct {
	ID string

	sock *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// Deliver queues a trade message for the client. A full queue drops
// the connection: a client that cannot keep up is disconnected rather
// than allowed to stall everyone else.
func (c *Conn) Deliver(channel string, payload []byte) {
	msg := TradeMessage{Type: TypeTrade, Channel: channel, Data: payload}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !c.enqueue(data) {
		observability.RecordWSSendFailure()
		c.close()
	}
}

func (c *Conn) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Hub upgrades HTTP requests to WebSocket connections and bridges the
// broker's delivery stream to subscribed clients.
type Hub struct {
	manager *SubscriptionManager
	logger  *log.Logger

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewHub creates a Hub on top of b.
func NewHub(b broker.Broker, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		manager: NewSubscriptionManager(b),
		logger:  logger,
		conns:   make(map[*Conn]struct{}),
	}
}

// Run fans broker messages out to subscribers until the broker's
// delivery stream closes or ctx is cancelled.
func (h *Hub) Run(ctx context.Context, messages <-chan broker.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			h.manager.Dispatch(msg)
		}
	}
}

// ServeHTTP handles GET /ws.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[ws] upgrade failed: %v", err)
		return
	}

	conn := &Conn{
		ID:   uuid.NewString(),
		sock: sock,
		send: make(chan []byte, sendQueueSize),
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	observability.UpdateWSConnections(len(h.conns))
	h.mu.Unlock()

	h.logger.Printf("[ws] connection %s opened from %s", conn.ID, r.RemoteAddr)

	welcome, _ := json.Marshal(ConnectedMessage{Type: TypeConnected, ConnectionID: conn.ID})
	conn.enqueue(welcome)

	go h.writeLoop(conn)
	h.readLoop(r.Context(), conn)
}

func (h *Hub) writeLoop(conn *Conn) {
	defer conn.sock.Close()
	for data := range conn.send {
		conn.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.sock.WriteMessage(websocket.TextMessage, data); err != nil {
			observability.RecordWSSendFailure()
			return
		}
		observability.RecordWSMessageSent()
	}
	conn.sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

func (h *Hub) readLoop(ctx context.Context, conn *Conn) {
	defer h.disconnect(conn)

	for {
		_, data, err := conn.sock.ReadMessage()
		if err != nil {
			return
		}

		var req ClientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			h.reject(conn, "malformed request")
			continue
		}

		switch req.Method {
		case MethodSubscribe:
			for _, channel := range req.Params {
				if channel == "" {
					continue
				}
				if err := h.manager.Subscribe(ctx, conn, channel); err != nil {
					h.logger.Printf("[ws] connection %s subscribe %s: %v", conn.ID, channel, err)
					h.reject(conn, "subscribe failed")
				}
			}
		case MethodUnsubscribe:
			for _, channel := range req.Params {
				if err := h.manager.Unsubscribe(ctx, conn, channel); err != nil {
					h.logger.Printf("[ws] connection %s unsubscribe %s: %v", conn.ID, channel, err)
				}
			}
		default:
			h.reject(conn, "unknown method")
		}
	}
}

func (h *Hub) reject(conn *Conn, reason string) {
	data, _ := json.Marshal(ErrorMessage{Type: TypeError, Message: reason})
	conn.enqueue(data)
}

func (h *Hub) disconnect(conn *Conn) {
	h.manager.Drop(context.Background(), conn)

	h.mu.Lock()
	delete(h.conns, conn)
	observability.UpdateWSConnections(len(h.conns))
	h.mu.Unlock()

	conn.close()
	h.logger.Printf("[ws] connection %s closed", conn.ID)
}

// Manager exposes the subscription index, mainly for tests.
func (h *Hub) Manager() *SubscriptionManager {
	return h.manager
}
