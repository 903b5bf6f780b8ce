package pattern

import (
	"testing"
	"time"

	"proptrader/internal/types"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxWedgeCandles = 30
	cfg.MinTouches = 2
	cfg.SwingOrder = 2
	cfg.TouchTolerance = 0.3
	cfg.BreakoutThreshold = 0.1
	return cfg
}

// wedgeCandles builds a 30 candle converging pattern: the upper
// envelope falls from 105, the lower rises from 95, candles touch the
// upper line every fourth candle and the lower line on the offset
// cycle.
func wedgeCandles() []types.Candle {
	candles := make([]types.Candle, 30)
	for i := range candles {
		upper := 105.0 - 0.15*float64(i)
		lower := 95.0 + 0.15*float64(i)
		high := upper
		if i%4 != 0 {
			high = upper - 0.3
		}
		low := lower
		if i%4 != 2 {
			low = lower + 0.3
		}
		candles[i] = types.Candle{
			Ts:    int64(i * 300),
			Open:  100,
			High:  high,
			Low:   low,
			Close: 100,
			Vol:   1000,
		}
	}
	return candles
}

var scanTime = time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)

func TestScanInsufficientCandles(t *testing.T) {
	d := NewDetector(testConfig(), NewStore())
	sig := d.Scan("acc:EURUSD", "EURUSD", wedgeCandles()[:5], scanTime)
	if sig.Phase != PhaseNone {
		t.Errorf("Expected NO_PATTERN, got %s", sig.Phase)
	}
	if sig.Reason != "need 15 candles, have 5" {
		t.Errorf("Unexpected reason: %q", sig.Reason)
	}
}

func TestScanNoConvergence(t *testing.T) {
	candles := make([]types.Candle, 30)
	for i := range candles {
		candles[i] = types.Candle{Ts: int64(i * 300), Open: 100, High: 101, Low: 99, Close: 100}
	}
	d := NewDetector(testConfig(), NewStore())
	sig := d.Scan("k", "EURUSD", candles, scanTime)
	if sig.Phase != PhaseNone {
		t.Errorf("Expected NO_PATTERN for a flat range, got %s", sig.Phase)
	}
	if sig.Reason != "no converging pattern found" {
		t.Errorf("Unexpected reason: %q", sig.Reason)
	}
}

func TestScanWedgeForming(t *testing.T) {
	store := NewStore()
	d := NewDetector(testConfig(), store)
	sig := d.Scan("k", "EURUSD", wedgeCandles(), scanTime)

	if sig.Phase != PhaseWedgeForming {
		t.Fatalf("Expected WEDGE_FORMING, got %s (%s)", sig.Phase, sig.Reason)
	}
	if sig.Wedge == nil {
		t.Fatal("Expected a wedge on the signal")
	}
	if !sig.Wedge.Descending {
		t.Error("Expected a descending wedge")
	}
	if sig.Confidence != 20.0 {
		t.Errorf("Expected confidence 20, got %v", sig.Confidence)
	}
	if store.Phase("k") != PhaseWedgeForming {
		t.Errorf("Expected stored phase WEDGE_FORMING, got %s", store.Phase("k"))
	}
}

func TestScanBreakout(t *testing.T) {
	candles := wedgeCandles()
	// Last candle closes well below the lower line with a small wick.
	candles[29] = types.Candle{Ts: candles[29].Ts, Open: 99.4, High: 99.5, Low: 98.0, Close: 98.5}

	d := NewDetector(testConfig(), NewStore())
	sig := d.Scan("k", "EURUSD", candles, scanTime)
	if sig.Phase != PhaseBreakout {
		t.Fatalf("Expected BREAKOUT, got %s (%s)", sig.Phase, sig.Reason)
	}
	if sig.Confidence != 35.0 {
		t.Errorf("Expected confidence 35, got %v", sig.Confidence)
	}
}

func TestScanStopHunt(t *testing.T) {
	candles := wedgeCandles()
	// Breakdown candle followed by a long lower wick that never
	// recloses inside the wedge.
	candles[28] = types.Candle{Ts: candles[28].Ts, Open: 99.3, High: 99.4, Low: 98.8, Close: 98.9}
	candles[29] = types.Candle{Ts: candles[29].Ts, Open: 98.9, High: 99.05, Low: 97.5, Close: 99.0}

	d := NewDetector(testConfig(), NewStore())
	sig := d.Scan("k", "EURUSD", candles, scanTime)
	if sig.Phase != PhaseStopHunt {
		t.Fatalf("Expected STOP_HUNT, got %s (%s)", sig.Phase, sig.Reason)
	}
	if sig.HuntExtreme != 97.5 {
		t.Errorf("Expected hunt extreme 97.5, got %v", sig.HuntExtreme)
	}
	if sig.StopHunt == nil || sig.StopHunt.Side != HuntBelow {
		t.Error("Expected a hunt below the wedge")
	}
}

func TestScanEntryReady(t *testing.T) {
	candles := wedgeCandles()
	// One candle sweeps the lows with an exhaustion wick, the next
	// closes back inside above the hunt close.
	candles[28] = types.Candle{Ts: candles[28].Ts, Open: 99.3, High: 99.35, Low: 97.0, Close: 99.0}
	candles[29] = types.Candle{Ts: candles[29].Ts, Open: 99.4, High: 99.85, Low: 99.35, Close: 99.8}

	store := NewStore()
	d := NewDetector(testConfig(), store)
	sig := d.Scan("k", "EURUSD", candles, scanTime)

	if sig.Phase != PhaseEntryReady {
		t.Fatalf("Expected ENTRY_READY, got %s (%s)", sig.Phase, sig.Reason)
	}
	if sig.Direction != types.Buy {
		t.Errorf("Expected a buy after a hunt below, got %s", sig.Direction)
	}
	if sig.EntryPrice != 99.8 {
		t.Errorf("Expected entry at 99.8, got %v", sig.EntryPrice)
	}
	if sig.HuntExtreme != 97.0 {
		t.Errorf("Expected hunt extreme 97.0, got %v", sig.HuntExtreme)
	}
	if sig.WedgeStartPrice != 105.0 {
		t.Errorf("Expected wedge start 105.0, got %v", sig.WedgeStartPrice)
	}
	if sig.Confidence < 60 {
		t.Errorf("Expected confidence above 60, got %v", sig.Confidence)
	}
	if sig.Reversal == nil || !sig.Reversal.BackInside {
		t.Error("Expected a back-inside reversal")
	}
	if !sig.Timestamp.Equal(scanTime) {
		t.Errorf("Expected signal timestamp %v, got %v", scanTime, sig.Timestamp)
	}

	// The signal is one-shot: state resets so it cannot fire again.
	if store.Phase("k") != PhaseNone {
		t.Errorf("Expected state reset after entry signal, got %s", store.Phase("k"))
	}
}

func TestScanResetsOnDegrade(t *testing.T) {
	store := NewStore()
	d := NewDetector(testConfig(), store)

	d.Scan("k", "EURUSD", wedgeCandles(), scanTime)
	if store.Phase("k") != PhaseWedgeForming {
		t.Fatalf("Expected WEDGE_FORMING first, got %s", store.Phase("k"))
	}

	flat := make([]types.Candle, 30)
	for i := range flat {
		flat[i] = types.Candle{Ts: int64(i * 300), Open: 100, High: 101, Low: 99, Close: 100}
	}
	sig := d.Scan("k", "EURUSD", flat, scanTime)
	if sig.Phase != PhaseNone {
		t.Errorf("Expected NO_PATTERN after degrade, got %s", sig.Phase)
	}
	if store.Phase("k") != PhaseNone {
		t.Errorf("Expected state cleared after degrade, got %s", store.Phase("k"))
	}
}

func TestStoreKeysIndependent(t *testing.T) {
	store := NewStore()
	d := NewDetector(testConfig(), store)

	d.Scan("a:EURUSD", "EURUSD", wedgeCandles(), scanTime)
	if store.Phase("b:EURUSD") != PhaseNone {
		t.Error("Expected untouched key to report NO_PATTERN")
	}

	store.Reset("a:EURUSD")
	if store.Phase("a:EURUSD") != PhaseNone {
		t.Error("Expected NO_PATTERN after reset")
	}
}

func TestScanSameBarFiresOnce(t *testing.T) {
	candles := wedgeCandles()
	candles[28] = types.Candle{Ts: candles[28].Ts, Open: 99.3, High: 99.35, Low: 97.0, Close: 99.0}
	candles[29] = types.Candle{Ts: candles[29].Ts, Open: 99.4, High: 99.85, Low: 99.35, Close: 99.8}

	d := NewDetector(testConfig(), NewStore())
	sig := d.Scan("k", "EURUSD", candles, scanTime)
	if sig.Phase != PhaseEntryReady {
		t.Fatalf("Expected ENTRY_READY, got %s (%s)", sig.Phase, sig.Reason)
	}

	// Rescanning the unchanged series, as a blocked signal would, must
	// not emit the same entry again.
	for i := 0; i < 3; i++ {
		sig = d.Scan("k", "EURUSD", candles, scanTime.Add(time.Duration(i)*time.Minute))
		if sig.Phase != PhaseNone {
			t.Fatalf("Expected NO_PATTERN on rescan %d, got %s", i, sig.Phase)
		}
		if sig.Reason != "signal already taken on this bar" {
			t.Errorf("Unexpected reason on rescan %d: %q", i, sig.Reason)
		}
	}

	// A new closed candle lifts the guard and detection runs again.
	next := types.Candle{Ts: candles[29].Ts + 300, Open: 99.8, High: 100.0, Low: 99.7, Close: 99.9}
	sig = d.Scan("k", "EURUSD", append(candles, next), scanTime)
	if sig.Reason == "signal already taken on this bar" {
		t.Error("Expected detection to resume on a new bar")
	}
}

func TestScanTooFewTouches(t *testing.T) {
	// Converging fitted lines with three swings per side, but the
	// middle upper swing sits too far off the line to count as a
	// touch, leaving only two.
	candles := make([]types.Candle, 30)
	spikeHighs := map[int]float64{3: 103.5, 15: 101.4, 27: 101.1}
	spikeLows := map[int]float64{5: 96.5, 15: 97.5, 25: 98.5}
	for i := range candles {
		high := 100.0 + 0.005*float64(i)
		if h, ok := spikeHighs[i]; ok {
			high = h
		}
		low := 99.6 - 0.005*float64(i)
		if l, ok := spikeLows[i]; ok {
			low = l
		}
		candles[i] = types.Candle{Ts: int64(i * 300), Open: 100, High: high, Low: low, Close: 100, Vol: 1000}
	}

	cfg := testConfig()
	cfg.MinTouches = 3
	cfg.TouchTolerance = 0.35
	d := NewDetector(cfg, NewStore())

	sig := d.Scan("k", "EURUSD", candles, scanTime)
	if sig.Phase != PhaseNone {
		t.Errorf("Expected NO_PATTERN with two upper touches, got %s", sig.Phase)
	}
	if sig.Reason != "no converging pattern found" {
		t.Errorf("Unexpected reason: %q", sig.Reason)
	}
}
