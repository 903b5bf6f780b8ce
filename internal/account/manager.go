package account

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"proptrader/internal/interfaces"
	"proptrader/internal/logger"
	"proptrader/internal/types"
)

// Config describes a single prop firm account.
type Config struct {
	AccountID   string
	Firm        FirmType
	Enabled     bool
	Symbols     []string
	CustomRules *Rules // overrides the firm preset when set
}

// Account couples an account's config, rules, tracker and venue.
type Account struct {
	Config  Config
	Rules   Rules
	Tracker *Tracker
	Gateway interfaces.Gateway
}

// Manager runs multiple prop firm accounts side by side. Each account
// gets its own gateway connection, independent drawdown tracking and
// a monitor goroutine that flattens the account when a limit breaks.
type Manager struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	order    []string

	heartbeat time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(heartbeat time.Duration) *Manager {
	if heartbeat <= 0 {
		heartbeat = 5 * time.Second
	}
	return &Manager{
		accounts:  make(map[string]*Account),
		heartbeat: heartbeat,
	}
}

// Add registers an account with its gateway. Rules come from the firm
// preset unless the config carries an override.
func (m *Manager) Add(cfg Config, gw interfaces.Gateway) {
	rules := PresetRules(cfg.Firm)
	if cfg.CustomRules != nil {
		rules = *cfg.CustomRules
	}

	m.mu.Lock()
	if _, exists := m.accounts[cfg.AccountID]; !exists {
		m.order = append(m.order, cfg.AccountID)
	}
	m.accounts[cfg.AccountID] = &Account{
		Config:  cfg,
		Rules:   rules,
		Tracker: NewTracker(cfg.AccountID, rules),
		Gateway: gw,
	}
	m.mu.Unlock()

	logger.Info(context.Background(), "Account registered",
		"account", cfg.AccountID, "firm", string(cfg.Firm), "symbols", cfg.Symbols)
}

// Get returns the account for an id.
func (m *Manager) Get(accountID string) (*Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[accountID]
	return a, ok
}

// IDs returns all registered account ids in registration order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// EnabledIDs returns only the enabled account ids.
func (m *Manager) EnabledIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, id := range m.order {
		if m.accounts[id].Config.Enabled {
			out = append(out, id)
		}
	}
	return out
}

// ConnectAll connects every enabled account and seeds its tracker.
func (m *Manager) ConnectAll(ctx context.Context) map[string]bool {
	results := make(map[string]bool)
	for _, id := range m.EnabledIDs() {
		acct, _ := m.Get(id)
		if err := acct.Gateway.Connect(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Account connection failed", err, "account", id)
			results[id] = false
			continue
		}
		state, err := acct.Gateway.AccountState(ctx)
		if err != nil {
			logger.ErrorWithErr(ctx, "Account state fetch failed after connect", err, "account", id)
			results[id] = false
			continue
		}
		acct.Tracker.SetConnected(state, time.Now().UTC())
		results[id] = true
		logger.Info(ctx, "Account connected",
			"account", id, "balance", state.Balance, "equity", state.Equity)
	}

	connected := 0
	for _, ok := range results {
		if ok {
			connected++
		}
	}
	logger.Info(ctx, "Multi-account connect complete",
		"connected", connected, "total", len(results))
	return results
}

// DisconnectAll disconnects every account.
func (m *Manager) DisconnectAll(ctx context.Context) {
	for _, id := range m.IDs() {
		acct, _ := m.Get(id)
		if err := acct.Gateway.Disconnect(ctx); err != nil {
			logger.ErrorWithErr(ctx, "Disconnect failed", err, "account", id)
		}
		acct.Tracker.SetDisconnected()
		logger.Info(ctx, "Account disconnected", "account", id)
	}
}

// StartMonitors launches one drawdown monitor per connected account.
// Monitors stop when Stop is called or the context is cancelled.
func (m *Manager) StartMonitors(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, id := range m.EnabledIDs() {
		acct, _ := m.Get(id)
		m.wg.Add(1)
		go func(id string, acct *Account) {
			defer m.wg.Done()
			m.monitor(ctx, id, acct)
		}(id, acct)
	}
}

// Stop cancels the monitor goroutines and waits for them to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// monitor is the per-account heartbeat loop. It refreshes the tracker
// and triggers an emergency close on the first crossing of any limit.
func (m *Manager) monitor(ctx context.Context, id string, acct *Account) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !acct.Gateway.IsConnected() {
			continue
		}
		state, err := acct.Gateway.AccountState(ctx)
		if err != nil {
			logger.ErrorWithErr(ctx, "Heartbeat state fetch failed", err, "account", id)
			continue
		}

		breaches := acct.Tracker.Apply(state, time.Now().UTC())
		for _, b := range breaches {
			logger.Breach(ctx, id, string(b.Kind), b.Value, b.Limit)
			m.emergencyClose(ctx, id, acct, string(b.Kind))
		}
	}
}

// emergencyClose flattens every position on an account.
func (m *Manager) emergencyClose(ctx context.Context, id string, acct *Account, reason string) {
	logger.Warn(ctx, "Emergency close", "account", id, "reason", reason)
	count, err := acct.Gateway.CloseAllTrades(ctx, "")
	if err != nil {
		logger.ErrorWithErr(ctx, "Emergency close failed", err, "account", id, "reason", reason)
		return
	}
	logger.Info(ctx, "Emergency close complete", "account", id, "closed", count, "reason", reason)
}

// CanTrade reports whether an account may take a new trade.
func (m *Manager) CanTrade(accountID string) (bool, string) {
	acct, ok := m.Get(accountID)
	if !ok {
		return false, "account not found"
	}
	return acct.Tracker.CanTrade()
}

// ExecuteOn places an order on one account after a final compliance
// check, clamping the volume to the firm's lot bounds.
func (m *Manager) ExecuteOn(ctx context.Context, accountID string, req types.OrderRequest) (string, error) {
	allowed, reason := m.CanTrade(accountID)
	if !allowed {
		logger.Risk(ctx, accountID, req.Symbol, "TRADE_BLOCKED", reason)
		return "", fmt.Errorf("trade blocked on %s: %s", accountID, reason)
	}

	acct, _ := m.Get(accountID)
	req.Volume = clamp(req.Volume, acct.Rules.MinLotSize, acct.Rules.MaxLotSize)

	var (
		orderID string
		err     error
	)
	if req.Type == types.OrderLimit && acct.Gateway.SupportsLimitOrders() {
		orderID, err = acct.Gateway.ExecuteLimitOrder(ctx, req)
	} else {
		req.Type = types.OrderMarket
		orderID, err = acct.Gateway.ExecuteMarketOrder(ctx, req)
	}
	if err != nil {
		logger.ErrorWithErr(ctx, "Order execution failed", err,
			"account", accountID, "symbol", req.Symbol, "direction", string(req.Direction), "lots", req.Volume)
		return "", err
	}

	acct.Tracker.RecordTrade()
	logger.Trade(ctx, accountID, req.Symbol, string(req.Direction), req.Volume, orderID,
		"sl", req.StopLoss, "tp", req.TakeProfit)
	return orderID, nil
}

// ExecuteOnAll mirrors one signal across every enabled account. When
// scaleByEquity is set, the volume is recomputed per account from its
// equity and the firm's lots-per-10k rule.
func (m *Manager) ExecuteOnAll(ctx context.Context, req types.OrderRequest, scaleByEquity bool) map[string]string {
	results := make(map[string]string)
	for _, id := range m.EnabledIDs() {
		acct, _ := m.Get(id)
		perAccount := req
		if scaleByEquity {
			if equity := acct.Tracker.Equity(); equity > 0 {
				lots := math.Round((equity/10000)*acct.Rules.LotPer10K*100) / 100
				perAccount.Volume = clamp(lots, acct.Rules.MinLotSize, acct.Rules.MaxLotSize)
			}
		}
		orderID, err := m.ExecuteOn(ctx, id, perAccount)
		if err != nil {
			continue
		}
		results[id] = orderID
	}
	return results
}

// DailyReset rolls all trackers to a new trading day.
func (m *Manager) DailyReset(ctx context.Context) {
	for _, id := range m.IDs() {
		acct, _ := m.Get(id)
		acct.Tracker.DailyReset()
	}
	logger.Info(ctx, "Daily reset complete", "accounts", len(m.IDs()))
}

// Status summarizes every account for logging and inspection.
func (m *Manager) Status() map[string]any {
	accounts := make(map[string]any)
	var totalEquity, totalDailyPnL float64
	connected := 0

	for _, id := range m.IDs() {
		acct, _ := m.Get(id)
		snap := acct.Tracker.Snapshot()
		if snap.Connected {
			connected++
		}
		totalEquity += snap.Equity
		totalDailyPnL += snap.DailyPnL
		accounts[id] = map[string]any{
			"firm":                  string(snap.Firm),
			"connected":             snap.Connected,
			"enabled":               acct.Config.Enabled,
			"balance":               round2(snap.Balance),
			"equity":                round2(snap.Equity),
			"daily_pnl":             round2(snap.DailyPnL),
			"high_water_mark":       round2(snap.HighWaterMark),
			"open_positions":        snap.OpenPositions,
			"trades_today":          snap.TradesToday,
			"daily_loss_limit_hit":  snap.DailyLossLimitHit,
			"trailing_dd_limit_hit": snap.TrailingDDLimitHit,
			"total_dd_limit_hit":    snap.TotalDDLimitHit,
			"symbols":               acct.Config.Symbols,
			"max_positions":         acct.Rules.MaxPositions,
		}
	}

	return map[string]any{
		"total_accounts":     len(m.IDs()),
		"connected_accounts": connected,
		"total_equity":       round2(totalEquity),
		"total_daily_pnl":    round2(totalDailyPnL),
		"accounts":           accounts,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
