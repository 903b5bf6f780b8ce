package lifecycle

import (
	"context"
	"math"
	"time"

	"proptrader/internal/interfaces"
	"proptrader/internal/logger"
	"proptrader/internal/market"
	"proptrader/internal/types"
)

// Config holds the position management tunables.
type Config struct {
	Interval             time.Duration
	BreakevenTriggerPips float64 // profit before the stop moves to entry
	BreakevenLockPips    float64 // pips locked beyond entry at breakeven
	TrailingStartPips    float64 // profit before trailing begins
	TrailingStepPips     float64 // distance kept behind price
	StaleTradeAfter      time.Duration // negative-for-this-long positions get cut
	StaleExitEnabled     bool
}

func DefaultConfig() Config {
	return Config{
		Interval:             5 * time.Second,
		BreakevenTriggerPips: 6.0,
		BreakevenLockPips:    1.0,
		TrailingStartPips:    12.0,
		TrailingStepPips:     5.0,
		StaleTradeAfter:      60 * time.Minute,
		StaleExitEnabled:     false,
	}
}

// Manager runs the per-account position loop: breakeven locks once a
// position is in profit, a monotonic trailing stop further out, and
// an optional stale exit for positions that never got going.
type Manager struct {
	accountID string
	gateway   interfaces.Gateway
	adapter   *market.Adapter
	cooldown  *Cooldown
	cfg       Config

	beApplied map[string]bool
	trailSL   map[string]float64
	firstSeen map[string]time.Time
	lastSeen  map[string]types.Position

	onClose func(types.Position)
}

func NewManager(accountID string, gw interfaces.Gateway, adapter *market.Adapter, cooldown *Cooldown, cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Manager{
		accountID: accountID,
		gateway:   gw,
		adapter:   adapter,
		cooldown:  cooldown,
		cfg:       cfg,
		beApplied: make(map[string]bool),
		trailSL:   make(map[string]float64),
		firstSeen: make(map[string]time.Time),
		lastSeen:  make(map[string]types.Position),
	}
}

// SetCloseHook registers a callback invoked with the last known state
// of every position that disappears from the venue. Set it before Run.
func (m *Manager) SetCloseHook(fn func(types.Position)) {
	m.onClose = fn
}

// Run loops until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	logger.Info(ctx, "Position manager started",
		"account", m.accountID, "interval", m.cfg.Interval.String())
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick runs one management pass. Exposed for the scheduler and tests.
func (m *Manager) Tick(ctx context.Context, now time.Time) {
	if !m.gateway.IsConnected() {
		return
	}

	positions, err := m.gateway.OpenPositions(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Open positions fetch failed", err, "account", m.accountID)
		return
	}

	active := make(map[string]bool, len(positions))
	for _, pos := range positions {
		if pos.ID == "" || pos.OpenPrice == 0 || pos.Symbol == "" {
			continue
		}
		active[pos.ID] = true
		if _, seen := m.firstSeen[pos.ID]; !seen {
			m.firstSeen[pos.ID] = now
		}
		m.lastSeen[pos.ID] = pos
		m.managePosition(ctx, pos, now)
	}

	m.detectCloses(ctx, active, now)
	m.purge(active)
}

func (m *Manager) managePosition(ctx context.Context, pos types.Position, now time.Time) {
	pipSize := m.adapter.ProfileFor(pos.Symbol).PipSize

	quote, err := m.gateway.CurrentPrice(ctx, pos.Symbol)
	if err != nil || quote.Bid == 0 || quote.Ask == 0 {
		return
	}

	// A buy closes at the bid, a sell at the ask.
	var current, profitPips float64
	if pos.Direction == types.Buy {
		current = quote.Bid
		profitPips = (current - pos.OpenPrice) / pipSize
	} else {
		current = quote.Ask
		profitPips = (pos.OpenPrice - current) / pipSize
	}

	m.applyBreakeven(ctx, pos, profitPips, pipSize)
	m.applyTrailing(ctx, pos, current, profitPips, pipSize)
	m.applyStaleExit(ctx, pos, profitPips, now)
}

// applyBreakeven moves the stop to entry plus a small lock once the
// position has enough profit. Applied at most once per position and
// only when it improves the current stop.
func (m *Manager) applyBreakeven(ctx context.Context, pos types.Position, profitPips, pipSize float64) {
	if profitPips < m.cfg.BreakevenTriggerPips || m.beApplied[pos.ID] {
		return
	}

	var newSL float64
	if pos.Direction == types.Buy {
		newSL = round5(pos.OpenPrice + m.cfg.BreakevenLockPips*pipSize)
	} else {
		newSL = round5(pos.OpenPrice - m.cfg.BreakevenLockPips*pipSize)
	}

	improves := false
	if pos.Direction == types.Buy && (pos.StopLoss == 0 || newSL > pos.StopLoss) {
		improves = true
	} else if pos.Direction == types.Sell && (pos.StopLoss == 0 || newSL < pos.StopLoss) {
		improves = true
	}
	if !improves {
		return
	}

	if err := m.gateway.ModifyTrade(ctx, pos.ID, newSL, pos.TakeProfit); err != nil {
		logger.ErrorWithErr(ctx, "Breakeven modify failed", err,
			"account", m.accountID, "symbol", pos.Symbol, "position", pos.ID)
		return
	}
	m.beApplied[pos.ID] = true
	logger.Info(ctx, "Breakeven applied",
		"account", m.accountID, "symbol", pos.Symbol, "position", pos.ID,
		"new_sl", newSL, "profit_pips", round1(profitPips))
}

// applyTrailing keeps the stop a fixed distance behind price once the
// position is well in profit. The stop only ever tightens: each move
// must beat both the last trail level and the current stop.
func (m *Manager) applyTrailing(ctx context.Context, pos types.Position, current, profitPips, pipSize float64) {
	if profitPips < m.cfg.TrailingStartPips {
		return
	}

	if pos.Direction == types.Buy {
		newSL := round5(current - m.cfg.TrailingStepPips*pipSize)
		prev, tracked := m.trailSL[pos.ID]
		if (tracked && newSL <= prev) || newSL <= pos.StopLoss {
			return
		}
		if err := m.gateway.ModifyTrade(ctx, pos.ID, newSL, pos.TakeProfit); err != nil {
			logger.ErrorWithErr(ctx, "Trailing modify failed", err,
				"account", m.accountID, "symbol", pos.Symbol, "position", pos.ID)
			return
		}
		m.trailSL[pos.ID] = newSL
		logger.Info(ctx, "Stop trailed",
			"account", m.accountID, "symbol", pos.Symbol, "position", pos.ID,
			"direction", "BUY", "new_sl", newSL, "profit_pips", round1(profitPips))
		return
	}

	newSL := round5(current + m.cfg.TrailingStepPips*pipSize)
	prev, tracked := m.trailSL[pos.ID]
	if tracked && newSL >= prev {
		return
	}
	if pos.StopLoss != 0 && newSL >= pos.StopLoss {
		return
	}
	if err := m.gateway.ModifyTrade(ctx, pos.ID, newSL, pos.TakeProfit); err != nil {
		logger.ErrorWithErr(ctx, "Trailing modify failed", err,
			"account", m.accountID, "symbol", pos.Symbol, "position", pos.ID)
		return
	}
	m.trailSL[pos.ID] = newSL
	logger.Info(ctx, "Stop trailed",
		"account", m.accountID, "symbol", pos.Symbol, "position", pos.ID,
		"direction", "SELL", "new_sl", newSL, "profit_pips", round1(profitPips))
}

// applyStaleExit cuts positions that have been under water for the
// configured duration without ever reaching breakeven.
func (m *Manager) applyStaleExit(ctx context.Context, pos types.Position, profitPips float64, now time.Time) {
	if !m.cfg.StaleExitEnabled || profitPips >= 0 || m.beApplied[pos.ID] {
		return
	}
	opened, ok := m.firstSeen[pos.ID]
	if !ok || now.Sub(opened) < m.cfg.StaleTradeAfter {
		return
	}

	if err := m.gateway.CloseTrade(ctx, pos.ID); err != nil {
		logger.ErrorWithErr(ctx, "Stale exit close failed", err,
			"account", m.accountID, "symbol", pos.Symbol, "position", pos.ID)
		return
	}
	m.cooldown.RecordStopLoss(pos.Symbol, string(pos.Direction), now)
	logger.Info(ctx, "Stale position closed",
		"account", m.accountID, "symbol", pos.Symbol, "position", pos.ID,
		"profit_pips", round1(profitPips), "held", now.Sub(opened).String())
}

// detectCloses feeds positions that disappeared since the last pass
// into the cooldown tracker: a losing close counts as a stop hit, a
// winning close resets the loss streak.
func (m *Manager) detectCloses(ctx context.Context, active map[string]bool, now time.Time) {
	for id, pos := range m.lastSeen {
		if active[id] {
			continue
		}
		if m.onClose != nil {
			m.onClose(pos)
		}
		if pos.Profit < 0 {
			m.cooldown.RecordStopLoss(pos.Symbol, string(pos.Direction), now)
			logger.Info(ctx, "Losing close recorded",
				"account", m.accountID, "symbol", pos.Symbol, "position", id,
				"consecutive_losses", m.cooldown.ConsecutiveLosses())
		} else if pos.Profit > 0 {
			m.cooldown.RecordWin()
			logger.Info(ctx, "Winning close recorded",
				"account", m.accountID, "symbol", pos.Symbol, "position", id)
		}
	}
}

// purge drops tracking entries for positions no longer open.
func (m *Manager) purge(active map[string]bool) {
	for id := range m.beApplied {
		if !active[id] {
			delete(m.beApplied, id)
		}
	}
	for id := range m.trailSL {
		if !active[id] {
			delete(m.trailSL, id)
		}
	}
	for id := range m.firstSeen {
		if !active[id] {
			delete(m.firstSeen, id)
		}
	}
	for id := range m.lastSeen {
		if !active[id] {
			delete(m.lastSeen, id)
		}
	}
}

func round5(v float64) float64 {
	return math.Round(v*100000) / 100000
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
