package domain

import "github.com/shopspring/decimal"

// Holder is the derived per-address balance for one token mint, keyed
// by (Mint, Address). It is a view, not a source of truth: it can be
// rebuilt by replaying trades. Rows whose amount drops to zero or
// below are deleted rather than kept at a dust balance.
type Holder struct {
	Mint      string          `json:"mint"`
	Address   string          `json:"address"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt int64           `json:"updatedAt"` // unix seconds
}
