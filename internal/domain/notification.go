// Package domain defines the core value types flowing through the
// relay: raw webhook notifications, normalized trade events, minute
// candles, and holder balances.
package domain

import "github.com/shopspring/decimal"

// TokenTransfer is one token leg of a swap transaction. Amount is
// signed from the fee payer's perspective: positive when the fee payer
// receives the token, negative when they send it.
type TokenTransfer struct {
	Mint            string          `json:"mint"`
	FromUserAccount string          `json:"fromUserAccount"`
	ToUserAccount   string          `json:"toUserAccount"`
	TokenAmount     decimal.Decimal `json:"tokenAmount"`
}

// RawNotification is one swap transaction as delivered by the webhook
// provider. Batches arrive as a JSON array of these.
type RawNotification struct {
	Signature      string          `json:"signature"`
	Slot           int64           `json:"slot"`
	Timestamp      int64           `json:"timestamp"` // unix seconds
	FeePayer       string          `json:"feePayer"`
	TokenTransfers []TokenTransfer `json:"tokenTransfers"`
}
