package domain

import "github.com/shopspring/decimal"

// CandleInterval is the fixed candle bucket width in seconds.
const CandleInterval = 60

// MinuteBucket aligns a unix-seconds timestamp to its candle bucket.
func MinuteBucket(ts int64) int64 {
	return ts - ts%CandleInterval
}

// Candle is a per-minute OHLCV aggregate for one token mint.
// Keyed by (Mint, BucketStart); created on the first trade in a bucket,
// mutated by every subsequent trade in that bucket, never deleted.
// Invariant: High >= max(Open, Close) and Low <= min(Open, Close);
// Volume and TradeCount only grow.
type Candle struct {
	Mint        string          `json:"mint"`
	BucketStart int64           `json:"bucketStart"` // unix seconds, minute-aligned
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	TradeCount  int64           `json:"tradeCount"`
}

// NewCandle opens a candle from the first trade of a bucket.
func NewCandle(mint string, bucketStart int64, price, amount decimal.Decimal) *Candle {
	return &Candle{
		Mint:        mint,
		BucketStart: bucketStart,
		Open:        price,
		High:        price,
		Low:         price,
		Close:       price,
		Volume:      amount,
		TradeCount:  1,
	}
}

// Merge folds one more trade into the candle. High, Low and Volume are
// commutative merges; Close takes the incoming trade's price, so it
// reflects arrival order, not necessarily timestamp order.
func (c *Candle) Merge(price, amount decimal.Decimal) {
	if price.GreaterThan(c.High) {
		c.High = price
	}
	if price.LessThan(c.Low) {
		c.Low = price
	}
	c.Close = price
	c.Volume = c.Volume.Add(amount)
	c.TradeCount++
}
