package pattern

import (
	"fmt"
	"math"
	"time"

	"proptrader/internal/ta"
	"proptrader/internal/types"
)

// Config holds the detector tunables. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	MinWedgeCandles     int     // minimum candles to form a wedge
	MaxWedgeCandles     int     // maximum lookback for wedge detection
	MinTouches          int     // min touches per trendline
	TouchTolerance      float64 // floor for the touch distance, price units
	ConvergenceRatio    float64 // end width / start width below this = converging
	BreakoutThreshold   float64 // min distance beyond a line to count as breakout
	WickExhaustionRatio float64 // wick over this share of range = exhaustion
	RSIPeriod           int
	RSIOversold         float64
	RSIOverbought       float64
	SwingOrder          int // candles on each side of a swing point
}

func DefaultConfig() Config {
	return Config{
		MinWedgeCandles:     15,
		MaxWedgeCandles:     60,
		MinTouches:          3,
		TouchTolerance:      0.0003,
		ConvergenceRatio:    0.6,
		BreakoutThreshold:   0.0005,
		WickExhaustionRatio: 0.6,
		RSIPeriod:           14,
		RSIOversold:         35,
		RSIOverbought:       65,
		SwingOrder:          3,
	}
}

// Detector runs the detection pipeline. Configuration is fixed at
// construction; all mutable progress lives in the Store.
type Detector struct {
	cfg   Config
	store *Store
}

func NewDetector(cfg Config, store *Store) *Detector {
	return &Detector{cfg: cfg, store: store}
}

// Scan runs the full pipeline on oldest-first candles and returns the
// current phase for the key. An ENTRY_READY signal resets the key's
// state so the same pattern cannot fire twice.
func (d *Detector) Scan(key, symbol string, candles []types.Candle, now time.Time) Signal {
	if len(candles) < d.cfg.MinWedgeCandles {
		return Signal{
			Symbol: symbol,
			Phase:  PhaseNone,
			Reason: fmt.Sprintf("need %d candles, have %d", d.cfg.MinWedgeCandles, len(candles)),
		}
	}

	st := d.store.get(key)

	// One-shot: once a signal has fired, the same bar cannot fire
	// again. Detection resumes when a new candle closes.
	lastTs := candles[len(candles)-1].Ts
	if st.firedTs != 0 && st.firedTs == lastTs {
		return Signal{Symbol: symbol, Phase: PhaseNone, Reason: "signal already taken on this bar"}
	}

	wedge := d.buildWedge(candles)
	if wedge == nil {
		// A pattern that was in progress has degraded, start over.
		if st.phase != PhaseNone {
			d.store.Reset(key)
		}
		return Signal{Symbol: symbol, Phase: PhaseNone, Reason: "no converging pattern found"}
	}
	st.wedge = wedge

	side, breakoutIdx, ok := d.detectBreakout(candles, wedge)
	if !ok {
		st.phase = PhaseWedgeForming
		return Signal{
			Symbol:     symbol,
			Phase:      PhaseWedgeForming,
			Wedge:      wedge,
			Confidence: 20.0,
		}
	}
	st.breakoutIdx = breakoutIdx

	hunt := d.detectStopHunt(candles, side, breakoutIdx)
	if hunt == nil {
		st.phase = PhaseBreakout
		return Signal{
			Symbol:     symbol,
			Phase:      PhaseBreakout,
			Wedge:      wedge,
			Confidence: 35.0,
		}
	}
	st.hunt = hunt

	reversal := d.confirmReversal(candles, wedge, hunt, side)
	if reversal == nil {
		st.phase = PhaseStopHunt
		return Signal{
			Symbol:      symbol,
			Phase:       PhaseStopHunt,
			Wedge:       wedge,
			StopHunt:    hunt,
			HuntExtreme: hunt.Extreme,
			Confidence:  55.0,
		}
	}

	// Trade direction is opposite to the breakout.
	direction := types.Sell
	wedgeStart := wedge.StartPriceLow
	if side == HuntBelow {
		direction = types.Buy
		wedgeStart = wedge.StartPriceHigh
	}

	sig := Signal{
		Symbol:          symbol,
		Phase:           PhaseEntryReady,
		Direction:       direction,
		Confidence:      d.confidence(wedge, hunt, reversal, now),
		EntryPrice:      candles[len(candles)-1].Close,
		HuntExtreme:     hunt.Extreme,
		WedgeStartPrice: wedgeStart,
		Wedge:           wedge,
		StopHunt:        hunt,
		Reversal:        reversal,
		Timestamp:       now,
	}

	// The consumer owns the signal from here.
	d.store.markFired(key, lastTs)
	return sig
}

// buildWedge fits trendlines to swing highs and lows over the
// lookback window and checks convergence and touch counts.
func (d *Detector) buildWedge(candles []types.Candle) *Wedge {
	lookback := d.cfg.MaxWedgeCandles
	if len(candles) < lookback {
		lookback = len(candles)
	}
	window := candles[len(candles)-lookback:]

	highs := make([]float64, lookback)
	lows := make([]float64, lookback)
	for i, c := range window {
		highs[i] = c.High
		lows[i] = c.Low
	}

	swingHighs := findSwings(highs, d.cfg.SwingOrder, true)
	swingLows := findSwings(lows, d.cfg.SwingOrder, false)
	if len(swingHighs) < d.cfg.MinTouches || len(swingLows) < d.cfg.MinTouches {
		return nil
	}

	upperSlope, upperIntercept := fitLine(swingHighs)
	lowerSlope, lowerIntercept := fitLine(swingLows)

	widthAtStart := upperIntercept - lowerIntercept
	widthAtEnd := (upperSlope*float64(lookback-1) + upperIntercept) -
		(lowerSlope*float64(lookback-1) + lowerIntercept)
	if widthAtStart <= 0 {
		return nil
	}
	if widthAtEnd/widthAtStart >= d.cfg.ConvergenceRatio {
		return nil
	}

	tolerance := d.adaptiveTolerance(highs, lows)
	upperTouches := countTouches(highs, upperSlope, upperIntercept, tolerance)
	lowerTouches := countTouches(lows, lowerSlope, lowerIntercept, tolerance)
	if upperTouches < d.cfg.MinTouches || lowerTouches < d.cfg.MinTouches {
		return nil
	}

	descending := true
	switch {
	case upperSlope < 0 && lowerSlope < 0:
		descending = true // falling wedge, bullish reversal
	case upperSlope > 0 && lowerSlope > 0:
		descending = false // rising wedge, bearish reversal
	case upperSlope < 0 && lowerSlope >= 0:
		descending = true // contracting down
	default:
		descending = false // contracting up
	}

	return &Wedge{
		StartIndex:     len(candles) - lookback,
		EndIndex:       len(candles) - 1,
		UpperSlope:     upperSlope,
		LowerSlope:     lowerSlope,
		UpperIntercept: upperIntercept,
		LowerIntercept: lowerIntercept,
		StartPriceHigh: highs[0],
		StartPriceLow:  lows[0],
		Descending:     descending,
		TouchesUpper:   upperTouches,
		TouchesLower:   lowerTouches,
		WidthAtStart:   widthAtStart,
		WidthAtEnd:     widthAtEnd,
	}
}

type swing struct {
	idx   int
	price float64
}

// findSwings returns local extremes: a swing high is higher than
// order candles on each side, a swing low lower.
func findSwings(prices []float64, order int, high bool) []swing {
	var swings []swing
	for i := order; i < len(prices)-order; i++ {
		ok := true
		for j := 1; j <= order; j++ {
			if high {
				if prices[i] < prices[i-j] || prices[i] < prices[i+j] {
					ok = false
					break
				}
			} else {
				if prices[i] > prices[i-j] || prices[i] > prices[i+j] {
					ok = false
					break
				}
			}
		}
		if ok {
			swings = append(swings, swing{idx: i, price: prices[i]})
		}
	}
	return swings
}

func fitLine(swings []swing) (slope, intercept float64) {
	if len(swings) < 2 {
		if len(swings) == 1 {
			return 0, swings[0].price
		}
		return 0, 0
	}
	xs := make([]float64, len(swings))
	ys := make([]float64, len(swings))
	for i, s := range swings {
		xs[i] = float64(s.idx)
		ys[i] = s.price
	}
	return ta.LinFit(xs, ys)
}

// adaptiveTolerance widens the touch distance with volatility.
func (d *Detector) adaptiveTolerance(highs, lows []float64) float64 {
	avgRange := ta.AvgRange(highs, lows, len(highs))
	if math.IsNaN(avgRange) {
		return d.cfg.TouchTolerance
	}
	if t := avgRange * 0.15; t > d.cfg.TouchTolerance {
		return t
	}
	return d.cfg.TouchTolerance
}

func countTouches(prices []float64, slope, intercept, tolerance float64) int {
	count := 0
	for i, p := range prices {
		line := slope*float64(i) + intercept
		if math.Abs(p-line) <= tolerance {
			count++
		}
	}
	return count
}

// detectBreakout checks the last 5 candles for a close beyond a
// wedge boundary.
func (d *Detector) detectBreakout(candles []types.Candle, w *Wedge) (HuntSide, int, bool) {
	lookback := d.cfg.MaxWedgeCandles
	if len(candles) < lookback {
		lookback = len(candles)
	}

	start := len(candles) - 5
	if start < 0 {
		start = 0
	}
	for i := start; i < len(candles); i++ {
		pos := i - (len(candles) - lookback)
		if pos < 0 {
			continue
		}
		close := candles[i].Close
		upperLine := w.UpperSlope*float64(pos) + w.UpperIntercept
		lowerLine := w.LowerSlope*float64(pos) + w.LowerIntercept

		if close < lowerLine-d.cfg.BreakoutThreshold {
			return HuntBelow, i, true
		}
		if close > upperLine+d.cfg.BreakoutThreshold {
			return HuntAbove, i, true
		}
	}
	return "", 0, false
}

// detectStopHunt looks for an exhaustion wick in the last 3 candles
// after the breakout.
func (d *Detector) detectStopHunt(candles []types.Candle, side HuntSide, breakoutIdx int) *StopHunt {
	start := len(candles) - 3
	if breakoutIdx > start {
		start = breakoutIdx
	}

	for i := start; i < len(candles); i++ {
		c := candles[i]
		totalRange := c.High - c.Low
		if totalRange == 0 {
			continue
		}

		if side == HuntBelow {
			wickRatio := c.LowerWick() / totalRange
			if wickRatio >= d.cfg.WickExhaustionRatio {
				return &StopHunt{
					CandleIndex: i,
					Side:        HuntBelow,
					Extreme:     c.Low,
					Close:       c.Close,
					WickRatio:   wickRatio,
				}
			}
		} else {
			wickRatio := c.UpperWick() / totalRange
			if wickRatio >= d.cfg.WickExhaustionRatio {
				return &StopHunt{
					CandleIndex: i,
					Side:        HuntAbove,
					Extreme:     c.High,
					Close:       c.Close,
					WickRatio:   wickRatio,
				}
			}
		}
	}
	return nil
}

// confirmReversal requires the last candle to close back inside the
// wedge, in the reversal direction, with either an RSI shift or a
// close beyond the hunt candle's close.
func (d *Detector) confirmReversal(candles []types.Candle, w *Wedge, hunt *StopHunt, side HuntSide) *Reversal {
	last := candles[len(candles)-1]

	lookback := d.cfg.MaxWedgeCandles
	if len(candles) < lookback {
		lookback = len(candles)
	}
	pos := len(candles) - 1 - (len(candles) - lookback)
	if pos < 0 {
		pos = 0
	}
	upperLine := w.UpperSlope*float64(pos) + w.UpperIntercept
	lowerLine := w.LowerSlope*float64(pos) + w.LowerIntercept

	rsi := d.rsi(candles)

	if side == HuntBelow {
		backInside := last.Close > lowerLine
		bullish := last.Close > last.Open
		rsiConfirm := rsi < d.cfg.RSIOversold || rsi < 50
		aboveHunt := last.Close > hunt.Close
		if backInside && bullish && (rsiConfirm || aboveHunt) {
			return &Reversal{
				BackInside:    backInside,
				WithTrend:     bullish,
				RSI:           math.Round(rsi*10) / 10,
				RSIConfirm:    rsiConfirm,
				BeyondHunt:    aboveHunt,
				MomentumShift: true,
				UpperLine:     upperLine,
				LowerLine:     lowerLine,
			}
		}
		return nil
	}

	backInside := last.Close < upperLine
	bearish := last.Close < last.Open
	rsiConfirm := rsi > d.cfg.RSIOverbought || rsi > 50
	belowHunt := last.Close < hunt.Close
	if backInside && bearish && (rsiConfirm || belowHunt) {
		return &Reversal{
			BackInside:    backInside,
			WithTrend:     bearish,
			RSI:           math.Round(rsi*10) / 10,
			RSIConfirm:    rsiConfirm,
			BeyondHunt:    belowHunt,
			MomentumShift: true,
			UpperLine:     upperLine,
			LowerLine:     lowerLine,
		}
	}
	return nil
}

func (d *Detector) rsi(candles []types.Candle) float64 {
	if len(candles) < d.cfg.RSIPeriod+1 {
		return 50.0
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return ta.RSI(closes, d.cfg.RSIPeriod)
}

// confidence scores a completed signal 0-100 from wedge quality,
// hunt quality, reversal quality and session context.
func (d *Detector) confidence(w *Wedge, hunt *StopHunt, rev *Reversal, now time.Time) float64 {
	score := 0.0

	// Wedge quality, up to 30
	totalTouches := float64(w.TouchesUpper + w.TouchesLower)
	touchScore := totalTouches / 8.0
	if touchScore > 1.0 {
		touchScore = 1.0
	}
	score += touchScore * 15
	score += (1.0 - w.WidthAtEnd/w.WidthAtStart) * 15

	// Stop hunt quality, up to 30
	wickScore := hunt.WickRatio / 0.8
	if wickScore > 1.0 {
		wickScore = 1.0
	}
	score += wickScore * 20
	if hunt.VolumeSpike {
		score += 10
	}

	// Reversal quality, up to 25
	if rev.MomentumShift {
		score += 15
	}
	if rev.RSI < 30 || rev.RSI > 70 {
		score += 10
	}
	if rev.BackInside {
		score += 5
	}

	// Session context, up to 10
	hour := now.UTC().Hour()
	if hour >= 13 && hour <= 16 {
		score += 10
	} else if hour >= 8 && hour <= 12 {
		score += 5
	}

	if score > 100 {
		score = 100
	}
	return math.Round(score*10) / 10
}
