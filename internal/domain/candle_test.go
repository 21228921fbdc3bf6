package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMinuteBucket(t *testing.T) {
	cases := []struct {
		ts   int64
		want int64
	}{
		{0, 0},
		{59, 0},
		{60, 60},
		{61, 60},
		{1700000000, 1699999980},
	}

	for _, tc := range cases {
		if got := MinuteBucket(tc.ts); got != tc.want {
			t.Errorf("MinuteBucket(%d): got %d, want %d", tc.ts, got, tc.want)
		}
	}
}

func TestNewCandle(t *testing.T) {
	price := decimal.NewFromInt(42)
	amount := decimal.NewFromInt(10)

	c := NewCandle("mint1", 120, price, amount)

	for name, v := range map[string]decimal.Decimal{
		"Open": c.Open, "High": c.High, "Low": c.Low, "Close": c.Close,
	} {
		if !v.Equal(price) {
			t.Errorf("%s: got %s, want %s", name, v, price)
		}
	}
	if !c.Volume.Equal(amount) {
		t.Errorf("Volume: got %s, want %s", c.Volume, amount)
	}
	if c.TradeCount != 1 {
		t.Errorf("TradeCount: got %d, want 1", c.TradeCount)
	}
}

func TestCandle_Merge(t *testing.T) {
	c := NewCandle("mint1", 120, decimal.NewFromInt(10), decimal.NewFromInt(5))

	c.Merge(decimal.NewFromInt(30), decimal.NewFromInt(2))
	c.Merge(decimal.NewFromInt(7), decimal.NewFromInt(3))
	c.Merge(decimal.NewFromInt(15), decimal.NewFromInt(1))

	if !c.Open.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Open must not change on merge: got %s", c.Open)
	}
	if !c.High.Equal(decimal.NewFromInt(30)) {
		t.Errorf("High: got %s, want 30", c.High)
	}
	if !c.Low.Equal(decimal.NewFromInt(7)) {
		t.Errorf("Low: got %s, want 7", c.Low)
	}
	if !c.Close.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Close takes the latest merge: got %s", c.Close)
	}
	if !c.Volume.Equal(decimal.NewFromInt(11)) {
		t.Errorf("Volume: got %s, want 11", c.Volume)
	}
	if c.TradeCount != 4 {
		t.Errorf("TradeCount: got %d, want 4", c.TradeCount)
	}

	// High/Low always bracket Open and Close.
	maxOC := decimal.Max(c.Open, c.Close)
	minOC := decimal.Min(c.Open, c.Close)
	if c.High.LessThan(maxOC) || c.Low.GreaterThan(minOC) {
		t.Errorf("OHLC bracket violated: O=%s H=%s L=%s C=%s", c.Open, c.High, c.Low, c.Close)
	}
}

func TestTradeEvent_Valid(t *testing.T) {
	base := TradeEvent{
		Side:        TradeSideBuy,
		Signature:   "sig1",
		Mint:        "mint1",
		TokenAmount: decimal.NewFromInt(10),
		SolAmount:   decimal.NewFromInt(100),
	}

	if !base.Valid() {
		t.Fatal("Expected base event to be valid")
	}

	for name, mutate := range map[string]func(*TradeEvent){
		"bad side":         func(e *TradeEvent) { e.Side = "HOLD" },
		"empty signature":  func(e *TradeEvent) { e.Signature = "" },
		"empty mint":       func(e *TradeEvent) { e.Mint = "" },
		"zero tokens":      func(e *TradeEvent) { e.TokenAmount = decimal.Zero },
		"negative sol":     func(e *TradeEvent) { e.SolAmount = decimal.NewFromInt(-1) },
	} {
		ev := base
		mutate(&ev)
		if ev.Valid() {
			t.Errorf("%s: expected invalid", name)
		}
	}
}

func TestTradeEvent_HolderDelta(t *testing.T) {
	ev := TradeEvent{Side: TradeSideBuy, TokenAmount: decimal.NewFromInt(25)}
	if !ev.HolderDelta().Equal(decimal.NewFromInt(25)) {
		t.Errorf("BUY delta: got %s, want 25", ev.HolderDelta())
	}

	ev.Side = TradeSideSell
	if !ev.HolderDelta().Equal(decimal.NewFromInt(-25)) {
		t.Errorf("SELL delta: got %s, want -25", ev.HolderDelta())
	}
}
