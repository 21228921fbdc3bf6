// Package parser reconstructs semantic BUY/SELL trade events from raw
// multi-leg transfer notifications delivered by the upstream webhook.
package parser

import (
	"fmt"
	"io"
	"log"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"solana-trade-relay/internal/domain"
	"solana-trade-relay/internal/observability"
)

// WSOL is the Wrapped SOL mint address, the quote asset of every pair
// this pipeline tracks.
const WSOL = "So11111111111111111111111111111111111111112"

// Parser turns batches of raw notifications into normalized trade
// events. It is stateless and safe for concurrent use.
//
// Classification uses the dominant-leg heuristic: AMMs emit extra fee
// and rounding legs, so the largest-magnitude transfer on each side is
// treated as the economic transfer. This is a known-accuracy-bound
// simplification, not an instruction-level trace; complex multi-hop
// swaps can be misclassified.
type Parser struct {
	quoteMint string
	logger    *log.Logger
}

// New creates a Parser. A nil logger discards per-notification parse
// diagnostics.
func New(logger *log.Logger) *Parser {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Parser{
		quoteMint: WSOL,
		logger:    logger,
	}
}

// Parse converts a batch of raw notifications into zero or more trade
// events. A failure on one notification never aborts the batch: it is
// logged and the remaining notifications are still processed.
// Notifications that are not recognizable swaps (missing a quote or
// token leg, zero amounts) are silently skipped.
func (p *Parser) Parse(batch []domain.RawNotification) []domain.TradeEvent {
	events := make([]domain.TradeEvent, 0, len(batch))

	for i := range batch {
		ev, err := p.parseOne(&batch[i])
		if err != nil {
			p.logger.Printf("parse notification %s: %v", batch[i].Signature, err)
			observability.RecordNotificationSkipped("invalid")
			continue
		}
		if ev == nil {
			observability.RecordNotificationSkipped("not_swap")
			continue // not a swap
		}
		events = append(events, *ev)
	}

	return events
}

// parseOne extracts at most one trade event from a notification.
// Returns (nil, nil) when the notification is not a recognizable swap.
func (p *Parser) parseOne(n *domain.RawNotification) (*domain.TradeEvent, error) {
	if n.Signature == "" {
		return nil, fmt.Errorf("missing signature")
	}

	// Partition legs into the quote-asset side and everything else,
	// keeping only the largest-magnitude leg of each side.
	var quoteLeg, tokenLeg *domain.TokenTransfer
	for i := range n.TokenTransfers {
		t := &n.TokenTransfers[i]
		if t.Mint == p.quoteMint {
			if quoteLeg == nil || magnitude(t).GreaterThan(magnitude(quoteLeg)) {
				quoteLeg = t
			}
			continue
		}
		if !validMint(t.Mint) {
			continue
		}
		if tokenLeg == nil || magnitude(t).GreaterThan(magnitude(tokenLeg)) {
			tokenLeg = t
		}
	}
	if quoteLeg == nil || tokenLeg == nil {
		return nil, nil
	}

	solAmount := magnitude(quoteLeg)
	tokenAmount := magnitude(tokenLeg)
	if !solAmount.IsPositive() || !tokenAmount.IsPositive() {
		return nil, nil
	}

	// The fee payer spending quote asset means they bought the token.
	side := domain.TradeSideSell
	if quoteLeg.FromUserAccount == n.FeePayer {
		side = domain.TradeSideBuy
	}

	return &domain.TradeEvent{
		Side:        side,
		Signature:   n.Signature,
		Trader:      n.FeePayer,
		Mint:        tokenLeg.Mint,
		TokenAmount: tokenAmount,
		SolAmount:   solAmount,
		Price:       solAmount.Div(tokenAmount),
		Timestamp:   n.Timestamp,
		Slot:        n.Slot,
	}, nil
}

// magnitude returns the unsigned size of a transfer leg.
func magnitude(t *domain.TokenTransfer) decimal.Decimal {
	return t.TokenAmount.Abs()
}

// validMint reports whether s decodes to a 32-byte Solana public key.
func validMint(s string) bool {
	raw, err := base58.Decode(s)
	return err == nil && len(raw) == 32
}
