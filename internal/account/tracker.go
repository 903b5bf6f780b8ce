package account

import (
	"fmt"
	"sync"
	"time"

	"proptrader/internal/types"
)

// BreachKind identifies which drawdown limit was crossed.
type BreachKind string

const (
	BreachDailyLoss  BreachKind = "DAILY_LOSS_LIMIT"
	BreachTrailingDD BreachKind = "TRAILING_DD"
	BreachTotalDD    BreachKind = "TOTAL_DD"
)

// Breach is an edge-triggered limit crossing reported by the tracker.
type Breach struct {
	Kind  BreachKind
	Value float64
	Limit float64
}

// Snapshot is a point-in-time copy of tracker state.
type Snapshot struct {
	AccountID          string
	Firm               FirmType
	StartingBalance    float64
	HighWaterMark      float64
	Balance            float64
	Equity             float64
	DailyPnL           float64
	DailyLossLimitHit  bool
	TrailingDDLimitHit bool
	TotalDDLimitHit    bool
	TradesToday        int
	OpenPositions      int
	Connected          bool
	LastHeartbeat      time.Time
}

// Tracker holds per-account drawdown state. All breach flags are
// monotonic: once set they stay set until the relevant reset. Daily
// loss clears at the daily reset, trailing and total drawdown never
// clear for the life of the process.
type Tracker struct {
	mu sync.Mutex

	accountID string
	firm      FirmType
	rules     Rules

	startingBalance float64
	highWaterMark   float64
	balance         float64
	equity          float64
	dailyPnL        float64

	dailyLossHit  bool
	trailingDDHit bool
	totalDDHit    bool

	tradesToday   int
	openPositions int
	connected     bool
	lastHeartbeat time.Time
}

func NewTracker(accountID string, rules Rules) *Tracker {
	return &Tracker{
		accountID: accountID,
		firm:      rules.Firm,
		rules:     rules,
	}
}

// SetConnected marks the account connection state and seeds the
// baseline balances on first connect.
func (t *Tracker) SetConnected(state types.AccountState, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	t.balance = state.Balance
	t.equity = state.Equity
	t.startingBalance = state.Balance
	hwm := state.Equity
	if state.Balance > hwm {
		hwm = state.Balance
	}
	t.highWaterMark = hwm
	t.lastHeartbeat = now
}

func (t *Tracker) SetDisconnected() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
}

// Apply folds a fresh account state into the tracker and returns any
// limits crossed by this update. Each breach is reported exactly once:
// an already-set flag produces no event.
func (t *Tracker) Apply(state types.AccountState, now time.Time) []Breach {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.balance = state.Balance
	t.equity = state.Equity
	t.openPositions = state.OpenTrades
	t.lastHeartbeat = now

	if state.Equity > t.highWaterMark {
		t.highWaterMark = state.Equity
	}
	t.dailyPnL = state.Equity - t.startingBalance

	var breaches []Breach

	dailyLimit := t.startingBalance * (t.rules.DailyLossLimitPct / 100)
	if t.dailyPnL < 0 && -t.dailyPnL >= dailyLimit && !t.dailyLossHit {
		t.dailyLossHit = true
		breaches = append(breaches, Breach{Kind: BreachDailyLoss, Value: t.dailyPnL, Limit: -dailyLimit})
	}

	if t.rules.UseTrailingDD && t.rules.MaxTrailingDDPct > 0 {
		trailingDD := t.highWaterMark - state.Equity
		trailingLimit := t.highWaterMark * (t.rules.MaxTrailingDDPct / 100)
		if trailingDD >= trailingLimit && !t.trailingDDHit {
			t.trailingDDHit = true
			breaches = append(breaches, Breach{Kind: BreachTrailingDD, Value: trailingDD, Limit: trailingLimit})
		}
	}

	if t.rules.MaxTotalDDPct > 0 {
		totalDD := t.startingBalance - state.Equity
		totalLimit := t.startingBalance * (t.rules.MaxTotalDDPct / 100)
		if totalDD > 0 && totalDD >= totalLimit && !t.totalDDHit {
			t.totalDDHit = true
			breaches = append(breaches, Breach{Kind: BreachTotalDD, Value: totalDD, Limit: totalLimit})
		}
	}

	return breaches
}

// CanTrade reports whether the account may take a new position.
func (t *Tracker) CanTrade() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return false, "account not connected"
	}
	if t.dailyLossHit {
		return false, "daily loss limit hit"
	}
	if t.trailingDDHit {
		return false, "trailing drawdown limit hit"
	}
	if t.totalDDHit {
		return false, "total drawdown limit hit"
	}
	if t.openPositions >= t.rules.MaxPositions {
		return false, fmt.Sprintf("max positions reached: %d/%d", t.openPositions, t.rules.MaxPositions)
	}
	return true, "trade allowed"
}

// Breached reports whether any limit flag is set.
func (t *Tracker) Breached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dailyLossHit || t.trailingDDHit || t.totalDDHit
}

// RecordTrade bumps the per-day trade counters after an execution.
func (t *Tracker) RecordTrade() {
	t.mu.Lock()
	t.tradesToday++
	t.openPositions++
	t.mu.Unlock()
}

// DailyReset rolls the daily baseline forward: the daily loss flag
// and counters clear, the starting balance becomes the current one.
// Trailing and total drawdown flags are deliberately left alone.
func (t *Tracker) DailyReset() {
	t.mu.Lock()
	t.dailyPnL = 0
	t.dailyLossHit = false
	t.tradesToday = 0
	t.startingBalance = t.balance
	t.mu.Unlock()
}

func (t *Tracker) Equity() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.equity
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		AccountID:          t.accountID,
		Firm:               t.firm,
		StartingBalance:    t.startingBalance,
		HighWaterMark:      t.highWaterMark,
		Balance:            t.balance,
		Equity:             t.equity,
		DailyPnL:           t.dailyPnL,
		DailyLossLimitHit:  t.dailyLossHit,
		TrailingDDLimitHit: t.trailingDDHit,
		TotalDDLimitHit:    t.totalDDHit,
		TradesToday:        t.tradesToday,
		OpenPositions:      t.openPositions,
		Connected:          t.connected,
		LastHeartbeat:      t.lastHeartbeat,
	}
}
