// Package market normalizes how the strategy interacts with different
// market types. One strategy, multiple markets: FX pairs, indices and
// metals each get their own trade windows, stop sizing and order types.
package market

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"proptrader/internal/ta"
	"proptrader/internal/types"
)

type MarketType string

const (
	FX        MarketType = "FX"
	Index     MarketType = "INDEX"
	Commodity MarketType = "COMMODITY"
)

// Profile holds everything the system needs to know about how a
// symbol trades: window hours are UTC, distances are in pips/points.
type Profile struct {
	Type MarketType

	TradeWindowStart int
	TradeWindowEnd   int
	KillzoneStart    int
	KillzoneEnd      int

	PipSize    float64
	PointValue float64

	SLBufferPips  float64
	UseATRSL      bool
	ATRMultiplier float64
	MinSLDistance float64
	MaxSpreadPips float64 // entries rejected above this; 0 disables the guard

	UseLimitOrders  bool
	LimitOffsetPips float64

	ContractSize float64
	MinLot       float64
	MaxLot       float64
	LotStep      float64
}

var fxProfile = Profile{
	Type:             FX,
	TradeWindowStart: 8,
	TradeWindowEnd:   21,
	KillzoneStart:    13,
	KillzoneEnd:      16,
	PipSize:          0.0001,
	PointValue:       10.0,
	SLBufferPips:     3.0,
	MinSLDistance:    10.0,
	MaxSpreadPips:    3.0,
	ContractSize:     100000,
	MinLot:           0.01,
	MaxLot:           10.0,
	LotStep:          0.01,
}

var fxJPYProfile = Profile{
	Type:             FX,
	TradeWindowStart: 8,
	TradeWindowEnd:   21,
	KillzoneStart:    13,
	KillzoneEnd:      16,
	PipSize:          0.01,
	PointValue:       6.7,
	SLBufferPips:     3.0,
	MinSLDistance:    10.0,
	MaxSpreadPips:    3.0,
	ContractSize:     100000,
	MinLot:           0.01,
	MaxLot:           10.0,
	LotStep:          0.01,
}

var nasdaqProfile = Profile{
	Type:             Index,
	TradeWindowStart: 14,
	TradeWindowEnd:   21,
	KillzoneStart:    14,
	KillzoneEnd:      17,
	PipSize:          0.01,
	PointValue:       1.0,
	UseATRSL:         true,
	ATRMultiplier:    2.0,
	MinSLDistance:    15.0,
	MaxSpreadPips:    300.0,
	UseLimitOrders:   true,
	LimitOffsetPips:  10.0,
	ContractSize:     1,
	MinLot:           0.1,
	MaxLot:           20.0,
	LotStep:          0.1,
}

var indexProfile = Profile{
	Type:             Index,
	TradeWindowStart: 8,
	TradeWindowEnd:   21,
	KillzoneStart:    14,
	KillzoneEnd:      17,
	PipSize:          0.01,
	PointValue:       1.0,
	UseATRSL:         true,
	ATRMultiplier:    2.0,
	MinSLDistance:    10.0,
	MaxSpreadPips:    300.0,
	UseLimitOrders:   true,
	LimitOffsetPips:  5.0,
	ContractSize:     1,
	MinLot:           0.1,
	MaxLot:           20.0,
	LotStep:          0.1,
}

var goldProfile = Profile{
	Type:             Commodity,
	TradeWindowStart: 8,
	TradeWindowEnd:   21,
	KillzoneStart:    13,
	KillzoneEnd:      17,
	PipSize:          0.01,
	PointValue:       1.0,
	UseATRSL:         true,
	ATRMultiplier:    1.5,
	MinSLDistance:    3.0,
	MaxSpreadPips:    50.0,
	ContractSize:     100,
	MinLot:           0.01,
	MaxLot:           10.0,
	LotStep:          0.01,
}

var symbolClassification = map[string]MarketType{
	"EURUSD": FX, "GBPUSD": FX, "USDJPY": FX, "USDCHF": FX,
	"AUDUSD": FX, "NZDUSD": FX, "USDCAD": FX,
	"EURJPY": FX, "GBPJPY": FX, "EURGBP": FX, "EURAUD": FX,
	"GBPAUD": FX, "AUDNZD": FX, "NZDJPY": FX, "CHFJPY": FX,
	"CADJPY": FX, "AUDCAD": FX, "EURCAD": FX, "GBPCAD": FX,
	"GBPNZD": FX, "EURNZD": FX,
	"NAS100": Index, "US100": Index, "USTEC": Index, "NASDAQ": Index,
	"NQ100": Index, "US30": Index, "DJ30": Index,
	"SP500": Index, "US500": Index,
	"DAX40": Index, "GER40": Index, "UK100": Index, "FTSE100": Index,
	"XAUUSD": Commodity, "GOLD": Commodity,
	"XAGUSD": Commodity, "SILVER": Commodity,
}

var indexHints = []string{"NAS", "US100", "USTEC", "NQ", "SP500", "US500", "US30", "DJ", "DAX", "GER", "UK100", "FTSE"}
var commodityHints = []string{"XAU", "XAG", "GOLD", "SILVER", "OIL", "WTI", "BRENT"}
var nasdaqHints = []string{"NAS", "US100", "USTEC", "NQ"}

// Adapter resolves per-symbol profiles and performs the window,
// stop, target and sizing math that depends on them.
type Adapter struct {
	mu      sync.RWMutex
	custom  map[string]Profile
}

func NewAdapter() *Adapter {
	return &Adapter{custom: make(map[string]Profile)}
}

// CleanSymbol strips common broker suffixes and uppercases the symbol.
func CleanSymbol(symbol string) string {
	clean := strings.TrimRight(symbol, ".")
	for _, suffix := range []string{"_m", "_M", ".raw", ".pro", ".std", ".ecn", ".stp"} {
		if strings.HasSuffix(clean, suffix) {
			clean = clean[:len(clean)-len(suffix)]
		}
	}
	return strings.ToUpper(clean)
}

// Classify determines the market type of a symbol. Unknown symbols
// fall back to heuristics on the name, then to FX.
func (a *Adapter) Classify(symbol string) MarketType {
	clean := CleanSymbol(symbol)
	if mt, ok := symbolClassification[clean]; ok {
		return mt
	}
	for _, hint := range indexHints {
		if strings.Contains(clean, hint) {
			return Index
		}
	}
	for _, hint := range commodityHints {
		if strings.Contains(clean, hint) {
			return Commodity
		}
	}
	return FX
}

// ProfileFor returns the trading profile for a symbol. Custom
// overrides registered via SetCustomProfile win over presets.
func (a *Adapter) ProfileFor(symbol string) Profile {
	clean := CleanSymbol(symbol)

	a.mu.RLock()
	p, ok := a.custom[clean]
	a.mu.RUnlock()
	if ok {
		return p
	}

	switch a.Classify(symbol) {
	case Index:
		for _, hint := range nasdaqHints {
			if strings.Contains(clean, hint) {
				return nasdaqProfile
			}
		}
		return indexProfile
	case Commodity:
		return goldProfile
	default:
		if strings.Contains(clean, "JPY") {
			return fxJPYProfile
		}
		return fxProfile
	}
}

// SetCustomProfile overrides the profile for a specific symbol.
func (a *Adapter) SetCustomProfile(symbol string, p Profile) {
	a.mu.Lock()
	a.custom[CleanSymbol(symbol)] = p
	a.mu.Unlock()
}

// InTradeWindow reports whether the UTC hour of now is inside the
// symbol's scan/entry window.
func (a *Adapter) InTradeWindow(symbol string, now time.Time) bool {
	p := a.ProfileFor(symbol)
	hour := now.UTC().Hour()
	return p.TradeWindowStart <= hour && hour < p.TradeWindowEnd
}

// InKillzone reports whether now is inside the prime execution window.
func (a *Adapter) InKillzone(symbol string, now time.Time) bool {
	p := a.ProfileFor(symbol)
	hour := now.UTC().Hour()
	return p.KillzoneStart <= hour && hour < p.KillzoneEnd
}

// StopDistance returns the stop buffer for a symbol in price units.
// FX uses a fixed pip buffer, indices and metals use ATR.
func (a *Adapter) StopDistance(symbol string, candles []types.Candle) float64 {
	p := a.ProfileFor(symbol)
	const atrPeriod = 14

	if p.UseATRSL && len(candles) >= atrPeriod {
		atr := candleATR(candles, atrPeriod)
		dist := atr * p.ATRMultiplier
		min := p.MinSLDistance * p.PipSize
		if dist < min {
			return min
		}
		return dist
	}
	return p.SLBufferPips * p.PipSize
}

// StopPrice places the stop behind the hunt extreme plus the buffer.
func (a *Adapter) StopPrice(symbol string, direction types.Direction, huntExtreme float64, candles []types.Candle) float64 {
	buffer := a.StopDistance(symbol, candles)
	if direction == types.Buy {
		return huntExtreme - buffer
	}
	return huntExtreme + buffer
}

// TargetPrice sets the take profit at the wedge origin, but never
// closer than minRR times the stop distance.
func (a *Adapter) TargetPrice(direction types.Direction, entry, stop, wedgeStart, minRR float64) float64 {
	slDistance := entry - stop
	if slDistance < 0 {
		slDistance = -slDistance
	}
	minTPDistance := slDistance * minRR

	if direction == types.Buy {
		tpAtRR := entry + minTPDistance
		if wedgeStart > tpAtRR {
			return wedgeStart
		}
		return tpAtRR
	}
	tpAtRR := entry - minTPDistance
	if wedgeStart < tpAtRR {
		return wedgeStart
	}
	return tpAtRR
}

// LotSize computes a risk-based position size: the amount risked at
// riskPct of equity divided by the per-lot loss over the stop
// distance, snapped to the lot step and clamped to profile bounds.
// A hard cap of 0.10 lots per order applies regardless of profile.
func (a *Adapter) LotSize(symbol string, equity, slDistancePrice, riskPct float64) float64 {
	p := a.ProfileFor(symbol)
	if slDistancePrice <= 0 {
		return p.MinLot
	}

	riskAmount := equity * (riskPct / 100.0)
	slUnits := slDistancePrice / p.PipSize
	if slUnits <= 0 {
		return p.MinLot
	}
	lots := riskAmount / (slUnits * p.PointValue)

	lots = snapToStep(lots, p.LotStep)
	if lots < p.MinLot {
		lots = p.MinLot
	}
	if lots > p.MaxLot {
		lots = p.MaxLot
	}
	if lots > 0.10 {
		lots = 0.10
	}
	return round2(lots)
}

// OrderTypeFor returns limit for limit-order markets, market otherwise.
func (a *Adapter) OrderTypeFor(symbol string) types.OrderType {
	if a.ProfileFor(symbol).UseLimitOrders {
		return types.OrderLimit
	}
	return types.OrderMarket
}

// LimitPrice computes the resting price for limit-order markets,
// placed slightly behind the current price to catch the retrace.
// ok is false for market-order symbols.
func (a *Adapter) LimitPrice(symbol string, direction types.Direction, current float64) (price float64, ok bool) {
	p := a.ProfileFor(symbol)
	if !p.UseLimitOrders {
		return 0, false
	}
	offset := p.LimitOffsetPips * p.PipSize
	if direction == types.Buy {
		return current - offset, true
	}
	return current + offset, true
}

// SymbolInfo summarizes how a symbol will be traded.
func (a *Adapter) SymbolInfo(symbol string) map[string]any {
	p := a.ProfileFor(symbol)
	orderType := "MARKET"
	if p.UseLimitOrders {
		orderType = "LIMIT"
	}
	slMethod := "FIXED_PIPS"
	if p.UseATRSL {
		slMethod = "ATR"
	}
	return map[string]any{
		"symbol":       symbol,
		"clean_symbol": CleanSymbol(symbol),
		"market_type":  string(a.Classify(symbol)),
		"trade_window": fmt.Sprintf("%02d:00 - %02d:00 UTC", p.TradeWindowStart, p.TradeWindowEnd),
		"killzone":     fmt.Sprintf("%02d:00 - %02d:00 UTC", p.KillzoneStart, p.KillzoneEnd),
		"order_type":   orderType,
		"sl_method":    slMethod,
		"pip_size":     p.PipSize,
		"min_lot":      p.MinLot,
	}
}

func candleATR(candles []types.Candle, period int) float64 {
	if len(candles) < period+1 {
		n := period
		if len(candles) < n {
			n = len(candles)
		}
		if n == 0 {
			return 0
		}
		sum := 0.0
		for _, c := range candles[len(candles)-n:] {
			sum += c.High - c.Low
		}
		return sum / float64(n)
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return ta.ATR(highs, lows, closes, period)
}

func snapToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	n := int(v/step + 0.5)
	return float64(n) * step
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
