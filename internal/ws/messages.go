// Package ws exposes the WebSocket endpoint that streams confirmed
// trades to clients, one channel per token mint.
package ws

import "encoding/json"

// Client request methods.
const (
	MethodSubscribe   = "SUBSCRIBE"
	MethodUnsubscribe = "UNSUBSCRIBE"
)

// Server message types.
const (
	TypeConnected = "connected"
	TypeTrade     = "trade"
	TypeError     = "error"
)

// ClientRequest is a subscribe or unsubscribe command sent by a client.
type ClientRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// ConnectedMessage is sent once right after the upgrade.
type ConnectedMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

// TradeMessage wraps a confirmed trade for delivery on a channel.
type TradeMessage struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// ErrorMessage reports a rejected client request.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
