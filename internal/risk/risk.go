// Package risk sits between the signal generator and trade
// execution. Every signal passes through Evaluate before it can
// reach a venue; the verdict carries either the full trade
// parameters or the reason the trade was blocked.
package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"proptrader/internal/account"
	"proptrader/internal/interfaces"
	"proptrader/internal/market"
	"proptrader/internal/types"
)

// Verdict is the result of a risk evaluation. When Approved is false
// the trade is blocked and Reason says why; the sizing fields are
// only meaningful on an approved verdict.
type Verdict struct {
	Approved   bool
	Reason     string
	LotSize    float64
	StopLoss   float64
	TakeProfit float64
	OrderType  types.OrderType
	LimitPrice float64
	HasLimit   bool
	RiskReward float64
	RiskAmount float64
	RiskPct    float64
}

func blocked(format string, args ...any) Verdict {
	return Verdict{Approved: false, Reason: fmt.Sprintf(format, args...)}
}

// Engine performs prop-firm-aware risk checks. Dependencies are fixed
// at construction.
type Engine struct {
	accounts   *account.Manager
	market     *market.Adapter
	news       interfaces.NewsProvider
	maxRiskPct float64
}

func NewEngine(accounts *account.Manager, adapter *market.Adapter, news interfaces.NewsProvider, maxRiskPct float64) *Engine {
	if maxRiskPct <= 0 {
		maxRiskPct = 2.0
	}
	return &Engine{
		accounts:   accounts,
		market:     adapter,
		news:       news,
		maxRiskPct: maxRiskPct,
	}
}

// Request is a proposed trade derived from an entry signal.
type Request struct {
	AccountID   string
	Symbol      string
	Direction   types.Direction
	EntryPrice  float64
	HuntExtreme float64 // stop hunt wick extreme, the stop goes behind it
	WedgeStart  float64 // pattern origin, the target anchors to it
	Candles     []types.Candle

	Spread            float64 // live spread in price units, 0 when unknown
	ConsecutiveLosses int     // account-wide loss streak, shrinks sizing
}

// Evaluate runs the full check ladder for a proposed trade. Checks
// run in a fixed order and the first failure wins.
func (e *Engine) Evaluate(req Request, now time.Time) Verdict {
	now = now.UTC()

	// 1. Account health
	acct, ok := e.accounts.Get(req.AccountID)
	if !ok {
		return blocked("account not found")
	}
	if allowed, reason := acct.Tracker.CanTrade(); !allowed {
		return blocked("%s", reason)
	}
	rules := acct.Rules
	snap := acct.Tracker.Snapshot()

	// 2. Trade window
	if !e.market.InTradeWindow(req.Symbol, now) {
		p := e.market.ProfileFor(req.Symbol)
		return blocked("outside trade window: %d:00-%d:00 UTC", p.TradeWindowStart, p.TradeWindowEnd)
	}

	// 3. Friday close deadline
	if now.Weekday() == time.Friday && now.Hour() >= rules.FridayCloseUTC {
		return blocked("past Friday deadline (%d:00 UTC)", rules.FridayCloseUTC)
	}

	// 4. Weekend holding
	if now.Weekday() == time.Friday && !rules.WeekendHolding {
		if rules.FridayCloseUTC-now.Hour() <= 2 {
			return blocked("too close to market close, weekend holding not allowed")
		}
	}

	// 5. News lockout
	if lockout, reason := e.newsLockout(req.Symbol, now, rules); lockout {
		return blocked("%s", reason)
	}

	// 6. Spread guard
	profile := e.market.ProfileFor(req.Symbol)
	if profile.MaxSpreadPips > 0 && req.Spread > 0 {
		spreadPips := req.Spread / profile.PipSize
		if spreadPips > profile.MaxSpreadPips {
			return blocked("spread too wide: %.1f pips (max %.1f)", spreadPips, profile.MaxSpreadPips)
		}
	}

	// 7. Stop placement
	slPrice := e.market.StopPrice(req.Symbol, req.Direction, req.HuntExtreme, req.Candles)
	slDistance := math.Abs(req.EntryPrice - slPrice)
	minSL := profile.MinSLDistance * profile.PipSize
	if slDistance < minSL {
		return blocked("SL too tight: %.5f < min %.5f", slDistance, minSL)
	}

	// 8. Target placement
	tpPrice := e.market.TargetPrice(req.Direction, req.EntryPrice, slPrice, req.WedgeStart, 3.0)

	if req.Direction == types.Buy {
		if slPrice >= req.EntryPrice || tpPrice <= req.EntryPrice {
			return blocked("invalid BUY levels: SL=%.5f entry=%.5f TP=%.5f", slPrice, req.EntryPrice, tpPrice)
		}
	} else {
		if slPrice <= req.EntryPrice || tpPrice >= req.EntryPrice {
			return blocked("invalid SELL levels: SL=%.5f entry=%.5f TP=%.5f", slPrice, req.EntryPrice, tpPrice)
		}
	}

	// 9. Risk-reward ratio
	tpDistance := math.Abs(tpPrice - req.EntryPrice)
	rr := 0.0
	if slDistance > 0 {
		rr = tpDistance / slDistance
	}
	if rr < 2.0 {
		return blocked("R:R too low: %.1f:1 (min 2:1)", rr)
	}

	// 10. Position sizing; a loss streak halves the risk fraction
	equity := snap.Equity
	if equity <= 0 {
		return blocked("no equity available")
	}
	riskBudgetPct := e.maxRiskPct
	if req.ConsecutiveLosses >= 3 {
		riskBudgetPct /= 2
	}
	lots := e.propLotSize(req.Symbol, equity, slDistance, riskBudgetPct, rules)
	if lots < profile.MinLot {
		return blocked("calculated lot %.2f below minimum %.2f", lots, profile.MinLot)
	}

	// 11. Risk amount validation
	riskAmount := slDistance * lots * profile.ContractSize
	riskPct := riskAmount / equity * 100
	if riskPct > e.maxRiskPct*1.5 {
		return blocked("risk too high: %.1f%% (max %.1f%%)", riskPct, e.maxRiskPct*1.5)
	}

	// 12. Daily loss headroom: would this trade breach the limit if it loses?
	dailyLimit := snap.StartingBalance * (rules.DailyLossLimitPct / 100)
	currentLoss := math.Abs(math.Min(0, snap.DailyPnL))
	room := dailyLimit - currentLoss
	if riskAmount > room {
		return blocked("would breach daily loss: risk $%.2f > room $%.2f", riskAmount, room)
	}

	// 13. Order type
	orderType := e.market.OrderTypeFor(req.Symbol)
	limitPrice, hasLimit := e.market.LimitPrice(req.Symbol, req.Direction, req.EntryPrice)

	return Verdict{
		Approved:   true,
		Reason:     "all risk checks passed",
		LotSize:    lots,
		StopLoss:   round5(slPrice),
		TakeProfit: round5(tpPrice),
		OrderType:  orderType,
		LimitPrice: round5(limitPrice),
		HasLimit:   hasLimit,
		RiskReward: math.Round(rr*100) / 100,
		RiskAmount: math.Round(riskAmount*100) / 100,
		RiskPct:    math.Round(riskPct*100) / 100,
	}
}

// newsLockout blocks trading near a high-impact event affecting
// either currency of the pair.
func (e *Engine) newsLockout(symbol string, now time.Time, rules account.Rules) (bool, string) {
	if e.news == nil {
		return false, ""
	}
	window := time.Duration(rules.NewsLockoutMinutes) * time.Minute

	clean := market.CleanSymbol(symbol)
	var currencies []string
	if len(clean) >= 6 {
		currencies = append(currencies, clean[:3], clean[3:6])
	}
	for _, ccy := range currencies {
		if hit, desc := e.news.HighImpactWithin(ccy, window, now); hit {
			return true, fmt.Sprintf("news lockout: %s", desc)
		}
	}
	return false, ""
}

// propLotSize takes the minimum of the firm's equity scaling and the
// risk-based size, then clamps to firm limits and snaps to the step.
func (e *Engine) propLotSize(symbol string, equity, slDistance, riskPct float64, rules account.Rules) float64 {
	profile := e.market.ProfileFor(symbol)

	propLots := (equity / 10000) * rules.LotPer10K
	if profile.Type == market.Index {
		propLots = (equity / 10000) * rules.ContractPer10K
	}

	riskLots := e.market.LotSize(symbol, equity, slDistance, riskPct)

	lots := math.Min(propLots, riskLots)
	lots = math.Max(rules.MinLotSize, math.Min(lots, rules.MaxLotSize))
	if profile.LotStep > 0 {
		lots = math.Round(lots/profile.LotStep) * profile.LotStep
	}
	return math.Round(lots*100) / 100
}

// Summary reports the current risk state for an account.
func (e *Engine) Summary(accountID string) map[string]any {
	acct, ok := e.accounts.Get(accountID)
	if !ok {
		return map[string]any{"error": "account not found"}
	}
	snap := acct.Tracker.Snapshot()
	rules := acct.Rules

	dailyLimit := snap.StartingBalance * (rules.DailyLossLimitPct / 100)
	dailyUsed := math.Abs(math.Min(0, snap.DailyPnL))
	dailyRemaining := dailyLimit - dailyUsed
	usedPct := 0.0
	if dailyLimit > 0 {
		usedPct = dailyUsed / dailyLimit * 100
	}
	canTrade, blockReason := acct.Tracker.CanTrade()

	out := map[string]any{
		"account_id":       accountID,
		"firm":             string(snap.Firm),
		"equity":           round2(snap.Equity),
		"daily_pnl":        round2(snap.DailyPnL),
		"daily_loss_limit": round2(dailyLimit),
		"daily_remaining":  round2(dailyRemaining),
		"daily_used_pct":   math.Round(usedPct*10) / 10,
		"open_positions":   snap.OpenPositions,
		"max_positions":    rules.MaxPositions,
		"can_trade":        canTrade,
		"block_reason":     blockReason,
	}

	if rules.UseTrailingDD {
		trailingDD := snap.HighWaterMark - snap.Equity
		trailingLimit := snap.HighWaterMark * (rules.MaxTrailingDDPct / 100)
		out["trailing_dd"] = round2(trailingDD)
		out["trailing_dd_limit"] = round2(trailingLimit)
	}
	return out
}

// PairCurrencies extracts the base and quote currencies of an FX
// symbol, empty for non-pair symbols.
func PairCurrencies(symbol string) []string {
	clean := market.CleanSymbol(symbol)
	if len(clean) < 6 || strings.ContainsAny(clean[:6], "0123456789") {
		return nil
	}
	return []string{clean[:3], clean[3:6]}
}

func round5(v float64) float64 {
	return math.Round(v*100000) / 100000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
