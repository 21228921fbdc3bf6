package domain

import "github.com/shopspring/decimal"

// Trade side constants
const (
	TradeSideBuy  = "BUY"
	TradeSideSell = "SELL"
)

// TradeEvent is the normalized output of the webhook parser and the
// payload carried through the job queue and broadcast to subscribers.
// Immutable once produced. Signature is the natural idempotency key
// for the whole pipeline.
type TradeEvent struct {
	Side        string          `json:"type"` // "BUY" | "SELL"
	Signature   string          `json:"signature"`
	Trader      string          `json:"trader"`
	Mint        string          `json:"mint"`
	TokenAmount decimal.Decimal `json:"tokenAmount"` // > 0
	SolAmount   decimal.Decimal `json:"solAmount"`   // > 0, lamports
	Price       decimal.Decimal `json:"price"`       // SolAmount / TokenAmount
	Timestamp   int64           `json:"timestamp"`   // unix seconds
	Slot        int64           `json:"slot"`
}

// Valid reports whether the event satisfies the per-trade invariants.
func (e *TradeEvent) Valid() bool {
	if e.Side != TradeSideBuy && e.Side != TradeSideSell {
		return false
	}
	if e.Signature == "" || e.Mint == "" {
		return false
	}
	return e.TokenAmount.IsPositive() && e.SolAmount.IsPositive()
}

// HolderDelta is the signed balance change this event applies to the
// trader's holding: +TokenAmount on BUY, -TokenAmount on SELL.
func (e *TradeEvent) HolderDelta() decimal.Decimal {
	if e.Side == TradeSideSell {
		return e.TokenAmount.Neg()
	}
	return e.TokenAmount
}

// Trade is one accepted trade event as persisted, keyed by signature.
// Insert-only; duplicate signatures are silently skipped.
// Corresponds to the trades table in PostgreSQL.
type Trade struct {
	Signature   string
	Mint        string
	Trader      string
	Side        string // "BUY" | "SELL"
	TokenAmount decimal.Decimal
	SolAmount   decimal.Decimal
	Price       decimal.Decimal
	Timestamp   int64 // unix seconds
	Slot        int64
	CreatedAt   int64 // record creation timestamp (unix seconds)
}
