package market

import (
	"math"
	"testing"
	"time"

	"proptrader/internal/types"
)

func TestCleanSymbol(t *testing.T) {
	cases := map[string]string{
		"GBPUSD.":    "GBPUSD",
		"eurusd_m":   "EURUSD",
		"US100.raw":  "US100",
		"XAUUSD.pro": "XAUUSD",
		"NAS100":     "NAS100",
	}
	for in, want := range cases {
		if got := CleanSymbol(in); got != want {
			t.Errorf("CleanSymbol(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestClassify(t *testing.T) {
	a := NewAdapter()

	if got := a.Classify("EURUSD"); got != FX {
		t.Errorf("Expected FX for EURUSD, got %s", got)
	}
	if got := a.Classify("NAS100"); got != Index {
		t.Errorf("Expected INDEX for NAS100, got %s", got)
	}
	if got := a.Classify("XAUUSD."); got != Commodity {
		t.Errorf("Expected COMMODITY for XAUUSD., got %s", got)
	}
	// Unknown symbols fall through to name heuristics.
	if got := a.Classify("GER40cash"); got != Index {
		t.Errorf("Expected INDEX via hint for GER40cash, got %s", got)
	}
	if got := a.Classify("WTIUSD"); got != Commodity {
		t.Errorf("Expected COMMODITY via hint for WTIUSD, got %s", got)
	}
	if got := a.Classify("SOMETHING"); got != FX {
		t.Errorf("Expected FX fallback for unknown symbol, got %s", got)
	}
}

func TestProfileFor(t *testing.T) {
	a := NewAdapter()

	if p := a.ProfileFor("EURUSD"); p.PipSize != 0.0001 || p.PointValue != 10.0 {
		t.Errorf("Unexpected FX profile: pip %v, point value %v", p.PipSize, p.PointValue)
	}
	if p := a.ProfileFor("USDJPY"); p.PipSize != 0.01 {
		t.Errorf("Expected JPY pip size 0.01, got %v", p.PipSize)
	}

	nas := a.ProfileFor("NAS100")
	if !nas.UseLimitOrders || nas.ATRMultiplier != 2.0 || nas.TradeWindowStart != 14 {
		t.Errorf("Unexpected NAS100 profile: %+v", nas)
	}

	// US30 is an index but not a Nasdaq variant.
	if p := a.ProfileFor("US30"); p.LimitOffsetPips != 5.0 {
		t.Errorf("Expected generic index profile for US30, got offset %v", p.LimitOffsetPips)
	}

	if p := a.ProfileFor("XAUUSD"); p.ATRMultiplier != 1.5 || p.ContractSize != 100 {
		t.Errorf("Unexpected gold profile: %+v", p)
	}
}

func TestSetCustomProfile(t *testing.T) {
	a := NewAdapter()
	custom := fxProfile
	custom.SLBufferPips = 7.0
	a.SetCustomProfile("eurusd_m", custom)

	if p := a.ProfileFor("EURUSD"); p.SLBufferPips != 7.0 {
		t.Errorf("Expected custom SL buffer 7.0, got %v", p.SLBufferPips)
	}
}

func TestInTradeWindow(t *testing.T) {
	a := NewAdapter()
	day := func(hour int) time.Time {
		return time.Date(2026, 1, 5, hour, 30, 0, 0, time.UTC)
	}

	if !a.InTradeWindow("EURUSD", day(10)) {
		t.Error("Expected 10:30 UTC to be inside the FX window")
	}
	if a.InTradeWindow("EURUSD", day(7)) {
		t.Error("Expected 07:30 UTC to be outside the FX window")
	}
	if a.InTradeWindow("EURUSD", day(21)) {
		t.Error("Expected 21:30 UTC to be outside the FX window")
	}
	if a.InTradeWindow("NAS100", day(13)) {
		t.Error("Expected 13:30 UTC to be before the NAS100 open window")
	}

	if !a.InKillzone("EURUSD", day(13)) {
		t.Error("Expected 13:30 UTC to be inside the FX killzone")
	}
	if a.InKillzone("EURUSD", day(16)) {
		t.Error("Expected 16:30 UTC to be past the FX killzone")
	}
}

func TestStopPriceFX(t *testing.T) {
	a := NewAdapter()
	// FX ignores candles and uses the fixed 3 pip buffer.
	got := a.StopPrice("EURUSD", types.Buy, 1.1000, nil)
	if math.Abs(got-1.0997) > 1e-9 {
		t.Errorf("Expected stop 1.0997, got %v", got)
	}
	got = a.StopPrice("EURUSD", types.Sell, 1.1000, nil)
	if math.Abs(got-1.1003) > 1e-9 {
		t.Errorf("Expected stop 1.1003, got %v", got)
	}
}

func TestStopDistanceATR(t *testing.T) {
	a := NewAdapter()
	candles := make([]types.Candle, 14)
	for i := range candles {
		candles[i] = types.Candle{High: 15005, Low: 15000, Close: 15002}
	}
	// Average range 5 points, multiplier 2.0, well above the minimum.
	got := a.StopDistance("NAS100", candles)
	if math.Abs(got-10.0) > 1e-9 {
		t.Errorf("Expected ATR stop distance 10.0, got %v", got)
	}
}

func TestTargetPrice(t *testing.T) {
	a := NewAdapter()

	// Wedge origin further than 2R wins.
	got := a.TargetPrice(types.Buy, 1.1000, 1.0980, 1.1100, 2.0)
	if math.Abs(got-1.1100) > 1e-9 {
		t.Errorf("Expected wedge origin target 1.1100, got %v", got)
	}
	// Wedge origin closer than 2R gets pushed out to 2R.
	got = a.TargetPrice(types.Buy, 1.1000, 1.0980, 1.1010, 2.0)
	if math.Abs(got-1.1040) > 1e-9 {
		t.Errorf("Expected 2R target 1.1040, got %v", got)
	}
	got = a.TargetPrice(types.Sell, 1.1000, 1.1020, 1.0900, 2.0)
	if math.Abs(got-1.0900) > 1e-9 {
		t.Errorf("Expected wedge origin target 1.0900, got %v", got)
	}
}

func TestLotSize(t *testing.T) {
	a := NewAdapter()

	// 10 risked over 20 pips at 10/pip/lot = 0.05 lots.
	got := a.LotSize("EURUSD", 10000, 0.0020, 0.1)
	if got != 0.05 {
		t.Errorf("Expected 0.05 lots, got %v", got)
	}

	// 200 risked would size 1.0 lots, the hard cap stops it at 0.10.
	got = a.LotSize("EURUSD", 10000, 0.0020, 2.0)
	if got != 0.10 {
		t.Errorf("Expected hard cap at 0.10 lots, got %v", got)
	}

	// Tiny risk snaps to zero and gets raised to the minimum lot.
	got = a.LotSize("EURUSD", 100, 0.0020, 0.5)
	if got != 0.01 {
		t.Errorf("Expected minimum lot 0.01, got %v", got)
	}

	// Degenerate stop distance falls back to the minimum lot.
	got = a.LotSize("EURUSD", 10000, 0, 2.0)
	if got != 0.01 {
		t.Errorf("Expected minimum lot for zero stop distance, got %v", got)
	}
}

func TestOrderTypeAndLimitPrice(t *testing.T) {
	a := NewAdapter()

	if got := a.OrderTypeFor("EURUSD"); got != types.OrderMarket {
		t.Errorf("Expected market order for EURUSD, got %s", got)
	}
	if got := a.OrderTypeFor("NAS100"); got != types.OrderLimit {
		t.Errorf("Expected limit order for NAS100, got %s", got)
	}

	if _, ok := a.LimitPrice("EURUSD", types.Buy, 1.1); ok {
		t.Error("Expected no limit price for market-order symbols")
	}
	price, ok := a.LimitPrice("NAS100", types.Buy, 15000.0)
	if !ok || math.Abs(price-14999.9) > 1e-9 {
		t.Errorf("Expected buy limit 14999.9, got %v (ok=%v)", price, ok)
	}
	price, _ = a.LimitPrice("NAS100", types.Sell, 15000.0)
	if math.Abs(price-15000.1) > 1e-9 {
		t.Errorf("Expected sell limit 15000.1, got %v", price)
	}
}
