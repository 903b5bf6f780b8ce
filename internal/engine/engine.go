// Package engine runs the scan scheduler: the loop that walks every enabled
// account's watchlist, feeds candles through the pattern detector, pushes
// entry-ready signals through the risk engine, and hands approved orders to
// the account manager. Position supervision runs in per-account lifecycle
// managers on their own, faster, cadence.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"proptrader/internal/account"
	"proptrader/internal/eod"
	"proptrader/internal/journal"
	"proptrader/internal/lifecycle"
	"proptrader/internal/logger"
	"proptrader/internal/market"
	"proptrader/internal/news"
	"proptrader/internal/pattern"
	"proptrader/internal/risk"
	"proptrader/internal/store"
	"proptrader/internal/types"
)

// ScanResult is the last detector outcome for one account:symbol pair.
type ScanResult struct {
	Phase      string    `json:"phase"`
	Confidence float64   `json:"confidence"`
	Direction  string    `json:"direction"`
	Timestamp  time.Time `json:"timestamp"`
}

// Engine owns the scan loop and the per-account background tasks.
type Engine struct {
	cfg      *store.Config
	accounts *account.Manager
	adapter  *market.Adapter
	detector *pattern.Detector
	risk     *risk.Engine
	journal  *journal.Journal
	news     *news.Service // nil when the calendar is disabled

	cooldowns  map[string]*lifecycle.Cooldown
	lifecycles map[string]*lifecycle.Manager
	dailies    map[string]*risk.DailyTracker

	mu        sync.Mutex
	running   bool
	scanCount int
	lastScan  map[string]ScanResult

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the scheduler. The news service may be nil.
func New(cfg *store.Config, accounts *account.Manager, adapter *market.Adapter,
	detector *pattern.Detector, riskEngine *risk.Engine, jrnl *journal.Journal,
	newsSvc *news.Service) *Engine {
	return &Engine{
		cfg:        cfg,
		accounts:   accounts,
		adapter:    adapter,
		detector:   detector,
		risk:       riskEngine,
		journal:    jrnl,
		news:       newsSvc,
		cooldowns:  make(map[string]*lifecycle.Cooldown),
		lifecycles: make(map[string]*lifecycle.Manager),
		dailies:    make(map[string]*risk.DailyTracker),
		lastScan:   make(map[string]ScanResult),
	}
}

// Start connects every account and launches the background tasks: drawdown
// monitors, per-account lifecycle managers, the news refresher, the daily
// reset timer, and the scan loop itself.
func (e *Engine) Start(ctx context.Context) (map[string]bool, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()

	results := e.accounts.ConnectAll(ctx)
	connected := 0
	for _, ok := range results {
		if ok {
			connected++
		}
	}
	if connected == 0 {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return results, fmt.Errorf("no accounts connected")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.accounts.StartMonitors(runCtx)

	manageCfg := e.manageConfig()
	for _, id := range e.accounts.EnabledIDs() {
		acct, ok := e.accounts.Get(id)
		if !ok || !acct.Gateway.IsConnected() {
			continue
		}
		cd := lifecycle.NewCooldown()
		lc := lifecycle.NewManager(id, acct.Gateway, e.adapter, cd, manageCfg)
		e.cooldowns[id] = cd
		e.lifecycles[id] = lc

		// Realized-loss circuit breaker, fed from closed positions. It
		// trips on closed trades alone, before the next equity poll
		// reaches the drawdown tracker.
		limit := acct.Tracker.Snapshot().StartingBalance * acct.Rules.DailyLossLimitPct / 100
		dt := risk.NewDailyTracker(limit)
		e.dailies[id] = dt
		accountID := id
		lc.SetCloseHook(func(pos types.Position) {
			if dt.Record(pos.Profit) {
				pnl, _, _ := dt.Snapshot()
				logger.Risk(runCtx, accountID, pos.Symbol, "CIRCUIT_BREAKER", "realized daily loss limit hit",
					"realized_pnl", pnl, "limit", limit)
				e.journal.BreachEvent(accountID, "REALIZED_DAILY_LOSS", pnl, limit)
			}
		})

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			lc.Run(runCtx)
		}()
	}

	if e.news != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.news.Run(runCtx)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dailyResetLoop(runCtx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.scanLoop(runCtx)
	}()

	logger.Info(ctx, "Scan scheduler started",
		"accounts", connected,
		"interval_seconds", e.cfg.ScanSeconds,
		"timeframe", e.cfg.Timeframe)
	return results, nil
}

// Stop cancels all tasks, joins them, and disconnects every account.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.accounts.Stop()
	e.accounts.DisconnectAll(ctx)
	logger.Info(ctx, "Scan scheduler stopped")
}

func (e *Engine) manageConfig() lifecycle.Config {
	cfg := lifecycle.DefaultConfig()
	if e.cfg.ManageSeconds > 0 {
		cfg.Interval = time.Duration(e.cfg.ManageSeconds) * time.Second
	}
	if e.cfg.Risk.BreakevenTriggerPips > 0 {
		cfg.BreakevenTriggerPips = e.cfg.Risk.BreakevenTriggerPips
	}
	if e.cfg.Risk.BreakevenLockPips > 0 {
		cfg.BreakevenLockPips = e.cfg.Risk.BreakevenLockPips
	}
	if e.cfg.Risk.TrailingStartPips > 0 {
		cfg.TrailingStartPips = e.cfg.Risk.TrailingStartPips
	}
	if e.cfg.Risk.TrailingStepPips > 0 {
		cfg.TrailingStepPips = e.cfg.Risk.TrailingStepPips
	}
	if e.cfg.Risk.StaleTradeMinutes > 0 {
		cfg.StaleTradeAfter = time.Duration(e.cfg.Risk.StaleTradeMinutes) * time.Minute
	}
	cfg.StaleExitEnabled = e.cfg.Risk.StaleExitEnabled
	return cfg
}

func (e *Engine) scanLoop(ctx context.Context) {
	interval := time.Duration(e.cfg.ScanSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First scan immediately rather than one interval in.
	e.ScanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ScanOnce(ctx)
		}
	}
}

// ScanOnce walks every enabled account once. Exposed for the ops surface
// and tests.
func (e *Engine) ScanOnce(ctx context.Context) (signals, trades int) {
	e.mu.Lock()
	e.scanCount++
	count := e.scanCount
	e.mu.Unlock()

	timer := logger.StartOperation(ctx, "engine.scan", "scan", count)
	ctx = timer.GetContext()
	start := time.Now()

	for _, id := range e.accounts.EnabledIDs() {
		s, t := e.scanAccount(ctx, id)
		signals += s
		trades += t
	}

	logger.Info(ctx, "Scan complete",
		"scan", count,
		"signals", signals,
		"trades", trades,
		"elapsed", time.Since(start).Round(100*time.Millisecond).String())
	timer.End()
	return signals, trades
}

func (e *Engine) scanAccount(ctx context.Context, accountID string) (signals, trades int) {
	acct, ok := e.accounts.Get(accountID)
	if !ok || !acct.Gateway.IsConnected() {
		return 0, 0
	}

	now := time.Now().UTC()

	positions, err := acct.Gateway.OpenPositions(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to fetch positions before scan", err, "account", accountID)
		positions = nil
	}
	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[market.CleanSymbol(p.Symbol)] = true
	}

	if dt := e.dailies[accountID]; dt != nil {
		if ok, reason := dt.CanTrade(); !ok {
			logger.Debug(ctx, "Circuit breaker open, skipping account", "account", accountID, "reason", reason)
			return 0, 0
		}
	}

	cooldown := e.cooldowns[accountID]

	for _, symbol := range acct.Config.Symbols {
		if !e.adapter.InTradeWindow(symbol, now) {
			continue
		}
		// One position per symbol; the detector state keeps accruing but no
		// new entries while one is open.
		if held[market.CleanSymbol(symbol)] {
			continue
		}
		if cooldown != nil && cooldown.OnCooldown(symbol, now) {
			logger.Debug(ctx, "Symbol on cooldown", "account", accountID, "symbol", symbol)
			continue
		}

		candles, err := acct.Gateway.Candles(ctx, symbol, e.cfg.Timeframe, e.cfg.CandleCount)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to fetch candles", err, "account", accountID, "symbol", symbol)
			continue
		}
		if len(candles) < 30 {
			continue
		}

		key := accountID + ":" + symbol
		sig := e.detector.Scan(key, symbol, candles, now)

		e.mu.Lock()
		e.lastScan[key] = ScanResult{
			Phase:      string(sig.Phase),
			Confidence: sig.Confidence,
			Direction:  string(sig.Direction),
			Timestamp:  now,
		}
		e.mu.Unlock()

		if sig.Phase != pattern.PhaseEntryReady {
			continue
		}
		signals++

		logger.Signal(ctx, symbol, string(sig.Phase), string(sig.Direction), sig.Confidence,
			"account", accountID,
			"entry", sig.EntryPrice,
			"hunt_extreme", sig.HuntExtreme)
		e.journal.Signal(accountID, symbol, string(sig.Direction), string(sig.Phase), sig.Confidence, sig.EntryPrice)

		var spread float64
		if q, err := acct.Gateway.CurrentPrice(ctx, symbol); err == nil {
			spread = q.Spread
		}
		streak := 0
		if cooldown != nil {
			streak = cooldown.ConsecutiveLosses()
		}

		verdict := e.risk.Evaluate(risk.Request{
			AccountID:         accountID,
			Symbol:            symbol,
			Direction:         sig.Direction,
			EntryPrice:        sig.EntryPrice,
			HuntExtreme:       sig.HuntExtreme,
			WedgeStart:        sig.WedgeStartPrice,
			Candles:           candles,
			Spread:            spread,
			ConsecutiveLosses: streak,
		}, now)

		if !verdict.Approved {
			logger.Risk(ctx, accountID, symbol, "SIGNAL_BLOCKED", verdict.Reason,
				"direction", string(sig.Direction),
				"confidence", sig.Confidence)
			e.journal.Rejection(accountID, symbol, string(sig.Direction), verdict.Reason)
			continue
		}

		req := types.OrderRequest{
			Symbol:     symbol,
			Direction:  sig.Direction,
			Type:       verdict.OrderType,
			Volume:     verdict.LotSize,
			LimitPrice: verdict.LimitPrice,
			StopLoss:   verdict.StopLoss,
			TakeProfit: verdict.TakeProfit,
			Tag:        fmt.Sprintf("SIG_V2_%.0f", sig.Confidence),
		}

		orderID, err := e.accounts.ExecuteOn(ctx, accountID, req)
		if err != nil {
			logger.ErrorWithErr(ctx, "Order execution failed", err,
				"account", accountID,
				"symbol", symbol,
				"direction", string(sig.Direction),
				"lots", verdict.LotSize)
			e.journal.Rejection(accountID, symbol, string(sig.Direction), "execution failed: "+err.Error())
			continue
		}

		trades++
		held[market.CleanSymbol(symbol)] = true
		e.journal.Order(accountID, symbol, string(sig.Direction), orderID,
			verdict.LotSize, sig.EntryPrice, verdict.StopLoss, verdict.TakeProfit)
	}
	return signals, trades
}

// dailyResetLoop rolls the daily loss baselines at UTC midnight.
func (e *Engine) dailyResetLoop(ctx context.Context) {
	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			logger.Info(ctx, "Daily reset", "date", time.Now().UTC().Format("2006-01-02"))
			e.writeDailyReports(ctx, now)
			e.accounts.DailyReset(ctx)
			for _, dt := range e.dailies {
				dt.Reset()
			}
			// A new week also clears loss streaks and symbol cooldowns.
			if time.Now().UTC().Weekday() == time.Monday {
				for _, cd := range e.cooldowns {
					cd.Reset()
				}
			}
		}
	}
}

// writeDailyReports summarizes the day that just ended to CSV, one file per
// account.
func (e *Engine) writeDailyReports(ctx context.Context, day time.Time) {
	for _, id := range e.accounts.EnabledIDs() {
		acct, ok := e.accounts.Get(id)
		if !ok || !acct.Gateway.IsConnected() {
			continue
		}
		trades, err := acct.Gateway.TradeHistory(ctx, 2)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to fetch trade history for EOD report", err, "account", id)
			continue
		}
		path, err := eod.WriteDaily(id, day, trades)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to write EOD report", err, "account", id)
			continue
		}
		if path != "" {
			logger.Info(ctx, "EOD report written", "account", id, "path", path)
		}
	}
}

// Status reports the scheduler, account, and last-scan state for the ops
// surface.
func (e *Engine) Status() map[string]any {
	e.mu.Lock()
	running := e.running
	count := e.scanCount
	scans := make(map[string]ScanResult, len(e.lastScan))
	for k, v := range e.lastScan {
		scans[k] = v
	}
	e.mu.Unlock()

	losses := make(map[string]int, len(e.cooldowns))
	for id, cd := range e.cooldowns {
		losses[id] = cd.ConsecutiveLosses()
	}
	realized := make(map[string]any, len(e.dailies))
	for id, dt := range e.dailies {
		pnl, trades, tripped := dt.Snapshot()
		realized[id] = map[string]any{"pnl": pnl, "trades": trades, "tripped": tripped}
	}

	return map[string]any{
		"running":            running,
		"scan_count":         count,
		"scan_interval":      e.cfg.ScanSeconds,
		"mode":               e.cfg.Mode,
		"accounts":           e.accounts.Status(),
		"last_scans":         scans,
		"consecutive_losses": losses,
		"daily_realized":     realized,
	}
}

// Cooldown exposes an account's loss tracker to the lifecycle tests and the
// ops surface.
func (e *Engine) Cooldown(accountID string) *lifecycle.Cooldown {
	return e.cooldowns[accountID]
}
