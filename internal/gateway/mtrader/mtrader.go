// Package mtrader implements the execution gateway for brokers running on
// the MatchTrader platform (E8 Markets and similar).
//
// Auth flow:
//  1. POST /manager/mtr-login returns a session token plus a trading API token
//  2. the session token rides on Cookie: co-auth={token}
//  3. the trading token rides on header Auth-trading-api
//  4. tokens expire after 15 minutes, refreshed via POST /manager/refresh-token
//
// All trading endpoints live under /mtr-api/{systemUUID}/.
package mtrader

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"proptrader/internal/api"
	"proptrader/internal/interfaces"
	"proptrader/internal/logger"
	"proptrader/internal/types"
)

const tokenRefreshEvery = 12 * time.Minute

var timeframeMinutes = map[string]int{
	"M1": 1, "M5": 5, "M15": 15, "M30": 30,
	"H1": 60, "H4": 240, "D1": 1440, "W1": 10080, "MN": 43200,
}

// Config holds the connection details for one MatchTrader account.
type Config struct {
	BaseURL  string
	Email    string
	Password string
	// BrokerID (partnerId) is auto-discovered from /manager/platform-details
	// when empty.
	BrokerID string
}

// Gateway talks to the MatchTrader Platform REST API.
type Gateway struct {
	cfg    Config
	client *api.Client

	mu              sync.RWMutex
	connected       bool
	sessionToken    string
	tradingToken    string
	systemUUID      string
	tradingDomain   string
	accountID       string
	accountCurrency string

	// clean symbol -> broker instrument name (GBPUSD -> GBPUSD.)
	instrumentMap map[string]string

	refreshCancel context.CancelFunc
	refreshDone   chan struct{}
}

var _ interfaces.Gateway = (*Gateway)(nil)

// New creates a gateway for the given MatchTrader broker.
func New(cfg Config) *Gateway {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Gateway{
		cfg: cfg,
		client: api.NewClient(
			api.WithTimeout(30*time.Second),
			api.WithHeader("Accept", "application/json"),
			api.WithLogging(true),
		),
		instrumentMap: make(map[string]string),
	}
}

type loginResponse struct {
	Token           string          `json:"token"`
	Email           string          `json:"email"`
	SelectedAccount *tradingAccount `json:"selectedTradingAccount"`
	SelectedAlt     *tradingAccount `json:"selectedAccount"`
	TradingAccounts []tradingAccount `json:"tradingAccounts"`
	Accounts        []tradingAccount `json:"accounts"`
}

type tradingAccount struct {
	TradingAPIToken  string `json:"tradingApiToken"`
	TradingAccountID any    `json:"tradingAccountId"`
	Offer            struct {
		Name     string `json:"name"`
		Currency string `json:"currency"`
		System   struct {
			UUID             string `json:"uuid"`
			TradingAPIDomain string `json:"tradingApiDomain"`
		} `json:"system"`
	} `json:"offer"`
}

// Connect authenticates, loads the instrument map, and starts the token
// refresh loop.
func (g *Gateway) Connect(ctx context.Context) error {
	if g.cfg.BaseURL == "" || g.cfg.Email == "" || g.cfg.Password == "" {
		return fmt.Errorf("mtrader: credentials not configured")
	}

	if err := g.authenticate(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()

	if err := g.loadInstruments(ctx); err != nil {
		logger.Warn(ctx, "Could not load instrument map", "error", err)
	}

	refreshCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	g.mu.Lock()
	g.refreshCancel = cancel
	g.refreshDone = done
	g.mu.Unlock()
	go g.refreshLoop(refreshCtx, done)

	logger.Info(ctx, "MatchTrader gateway connected",
		"server", g.cfg.BaseURL,
		"account", g.accountID,
		"currency", g.accountCurrency)
	return nil
}

func (g *Gateway) Disconnect(ctx context.Context) error {
	g.mu.Lock()
	g.connected = false
	cancel := g.refreshCancel
	done := g.refreshDone
	g.refreshCancel = nil
	g.refreshDone = nil
	g.sessionToken = ""
	g.tradingToken = ""
	g.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	logger.Info(ctx, "MatchTrader gateway disconnected", "server", g.cfg.BaseURL)
	return nil
}

func (g *Gateway) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

func (g *Gateway) authenticate(ctx context.Context) error {
	brokerID := g.cfg.BrokerID
	if discovered := g.discoverBrokerID(ctx); discovered != "" {
		brokerID = discovered
	}
	if brokerID == "" {
		return fmt.Errorf("mtrader: brokerId is required and could not be auto-discovered")
	}

	resp, err := g.client.POST(ctx, g.cfg.BaseURL+"/manager/mtr-login", map[string]string{
		"email":    g.cfg.Email,
		"password": g.cfg.Password,
		"brokerId": brokerID,
	})
	if err != nil {
		return fmt.Errorf("mtrader login: %w", err)
	}

	var login loginResponse
	if err := resp.ParseJSON(&login); err != nil {
		return fmt.Errorf("mtrader login: %w", err)
	}
	return g.applyLogin(login)
}

func (g *Gateway) applyLogin(login loginResponse) error {
	if login.Token == "" {
		return fmt.Errorf("mtrader login: response missing token")
	}

	// E8 Markets returns selectedAccount; the documented API says
	// selectedTradingAccount. Accept both, fall back to the first account.
	selected := login.SelectedAccount
	if selected == nil {
		selected = login.SelectedAlt
	}
	if selected == nil && len(login.TradingAccounts) > 0 {
		selected = &login.TradingAccounts[0]
	}
	if selected == nil && len(login.Accounts) > 0 {
		selected = &login.Accounts[0]
	}
	if selected == nil {
		return fmt.Errorf("mtrader login: response has no trading accounts")
	}
	if selected.TradingAPIToken == "" {
		return fmt.Errorf("mtrader login: response missing tradingApiToken")
	}
	if selected.Offer.System.UUID == "" {
		return fmt.Errorf("mtrader login: response missing system UUID")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionToken = login.Token
	g.tradingToken = selected.TradingAPIToken
	g.systemUUID = selected.Offer.System.UUID
	g.accountID = fmt.Sprint(selected.TradingAccountID)
	g.accountCurrency = selected.Offer.Currency
	if g.accountCurrency == "" {
		g.accountCurrency = "USD"
	}

	// Internal hostnames like ta-qfx-mtr:8080 are not reachable from
	// outside the broker's network; route those through the base URL.
	domain := strings.TrimSpace(selected.Offer.System.TradingAPIDomain)
	if domain != "" && strings.Contains(domain, ".") && !strings.HasPrefix(domain, "http://ta-") {
		if !strings.HasPrefix(domain, "http") {
			domain = "https://" + domain
		}
		g.tradingDomain = strings.TrimRight(domain, "/")
	} else {
		g.tradingDomain = ""
	}
	return nil
}

func (g *Gateway) discoverBrokerID(ctx context.Context) string {
	resp, err := g.client.GET(ctx, g.cfg.BaseURL+"/manager/platform-details")
	if err != nil {
		return ""
	}
	var details struct {
		PartnerID  any    `json:"partnerId"`
		BrokerName string `json:"brokerName"`
	}
	if err := resp.ParseJSON(&details); err != nil {
		return ""
	}
	id := fmt.Sprint(details.PartnerID)
	if id == "<nil>" || id == "" {
		return ""
	}
	logger.Debug(ctx, "MatchTrader platform discovered", "broker", details.BrokerName, "partnerId", id)
	return id
}

func (g *Gateway) refreshLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(tokenRefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.refreshToken(ctx); err != nil {
				logger.Warn(ctx, "Token refresh failed, re-authenticating", "error", err)
				if err := g.authenticate(ctx); err != nil {
					logger.ErrorWithErr(ctx, "Re-authentication failed", err)
				}
			}
		}
	}
}

func (g *Gateway) refreshToken(ctx context.Context) error {
	g.mu.RLock()
	session := g.sessionToken
	g.mu.RUnlock()
	if session == "" {
		return fmt.Errorf("no session token")
	}

	resp, err := g.client.POST(ctx, g.cfg.BaseURL+"/manager/refresh-token", map[string]string{},
		map[string]string{"Cookie": "co-auth=" + session})
	if err != nil {
		return err
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := resp.ParseJSON(&body); err == nil && body.Token != "" {
		g.mu.Lock()
		g.sessionToken = body.Token
		g.mu.Unlock()
	}
	return nil
}

func (g *Gateway) authHeaders() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return map[string]string{
		"Auth-trading-api": g.tradingToken,
		"Cookie":           "co-auth=" + g.sessionToken,
	}
}

// mtrPath builds the full URL for a trading API endpoint, preferring the
// trading API domain when the login response advertised one.
func (g *Gateway) mtrPath(endpoint string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	base := g.cfg.BaseURL
	if g.tradingDomain != "" {
		base = g.tradingDomain
	}
	return fmt.Sprintf("%s/mtr-api/%s/%s", base, g.systemUUID, endpoint)
}

func (g *Gateway) loadInstruments(ctx context.Context) error {
	resp, err := g.client.GET(ctx, g.mtrPath("effective-instruments"), g.authHeaders())
	if err != nil {
		return err
	}

	var list []struct {
		Symbol string `json:"symbol"`
		Alias  string `json:"alias"`
	}
	if err := resp.ParseJSON(&list); err != nil {
		var wrapped struct {
			Instruments []struct {
				Symbol string `json:"symbol"`
				Alias  string `json:"alias"`
			} `json:"instruments"`
		}
		if err2 := resp.ParseJSON(&wrapped); err2 != nil {
			return err
		}
		list = wrapped.Instruments
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, inst := range list {
		name := inst.Symbol
		if name == "" {
			name = inst.Alias
		}
		if name == "" {
			continue
		}
		g.instrumentMap[strings.TrimRight(name, ".")] = name
	}
	logger.Debug(ctx, "MatchTrader instruments loaded", "count", len(g.instrumentMap))
	return nil
}

// resolveSymbol maps a clean symbol to the broker's instrument name
// (GBPUSD -> GBPUSD. for E8 Markets). Unknown symbols pass through.
func (g *Gateway) resolveSymbol(symbol string) string {
	clean := strings.TrimRight(strings.ToUpper(symbol), ".")
	g.mu.RLock()
	defer g.mu.RUnlock()
	if broker, ok := g.instrumentMap[clean]; ok {
		return broker
	}
	return symbol
}

func (g *Gateway) AccountState(ctx context.Context) (types.AccountState, error) {
	resp, err := g.client.GET(ctx, g.mtrPath("balance"), g.authHeaders())
	if err != nil {
		return types.AccountState{}, err
	}

	// All numeric fields come back as strings.
	var body struct {
		Balance     string `json:"balance"`
		Equity      string `json:"equity"`
		Margin      string `json:"margin"`
		FreeMargin  string `json:"freeMargin"`
		MarginLevel string `json:"marginLevel"`
	}
	if err := resp.ParseJSON(&body); err != nil {
		return types.AccountState{}, err
	}

	state := types.AccountState{
		Balance:     num(body.Balance),
		Equity:      num(body.Equity),
		Margin:      num(body.Margin),
		FreeMargin:  num(body.FreeMargin),
		MarginLevel: num(body.MarginLevel),
	}

	if positions, err := g.OpenPositions(ctx); err == nil {
		state.OpenTrades = len(positions)
	}
	return state, nil
}

func (g *Gateway) Candles(ctx context.Context, symbol, timeframe string, n int) ([]types.Candle, error) {
	interval := strings.ToUpper(timeframe)
	minutes, ok := timeframeMinutes[interval]
	if !ok {
		interval, minutes = "M15", 15
	}

	now := time.Now().UTC()
	from := now.Add(-time.Duration(minutes*n) * time.Minute)

	q := url.Values{}
	q.Set("symbol", g.resolveSymbol(symbol))
	q.Set("interval", interval)
	q.Set("from", from.Format("2006-01-02T15:04:05Z"))
	q.Set("to", now.Format("2006-01-02T15:04:05Z"))

	resp, err := g.client.GET(ctx, g.mtrPath("candles")+"?"+q.Encode(), g.authHeaders())
	if err != nil {
		return nil, err
	}

	var body struct {
		Candles []struct {
			Time   int64   `json:"time"`
			Open   float64 `json:"open"`
			High   float64 `json:"high"`
			Low    float64 `json:"low"`
			Close  float64 `json:"close"`
			Volume float64 `json:"volume"`
		} `json:"candles"`
	}
	if err := resp.ParseJSON(&body); err != nil {
		return nil, err
	}

	candles := make([]types.Candle, 0, len(body.Candles))
	for _, bar := range body.Candles {
		ts := bar.Time
		if ts > 1e12 {
			// Millisecond timestamp.
			ts /= 1000
		}
		candles = append(candles, types.Candle{
			Ts:    ts,
			Open:  bar.Open,
			High:  bar.High,
			Low:   bar.Low,
			Close: bar.Close,
			Vol:   bar.Volume,
		})
	}
	return candles, nil
}

func (g *Gateway) CurrentPrice(ctx context.Context, symbol string) (types.Quote, error) {
	q := url.Values{}
	q.Set("symbols", g.resolveSymbol(symbol))

	resp, err := g.client.GET(ctx, g.mtrPath("quotations")+"?"+q.Encode(), g.authHeaders())
	if err != nil {
		return types.Quote{}, err
	}

	var quotes []struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	}
	if err := resp.ParseJSON(&quotes); err != nil {
		return types.Quote{}, err
	}
	if len(quotes) == 0 || quotes[0].Bid <= 0 || quotes[0].Ask <= 0 {
		return types.Quote{}, fmt.Errorf("mtrader: no quote for %s", symbol)
	}

	pipFactor := 100000.0
	if strings.Contains(strings.ToUpper(symbol), "JPY") {
		pipFactor = 100
	}
	return types.Quote{
		Bid:    quotes[0].Bid,
		Ask:    quotes[0].Ask,
		Spread: (quotes[0].Ask - quotes[0].Bid) * pipFactor,
	}, nil
}

type orderResult struct {
	Status       string `json:"status"`
	OrderID      string `json:"orderId"`
	ErrorMessage string `json:"errorMessage"`
}

func (g *Gateway) ExecuteMarketOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	if !g.IsConnected() {
		return "", fmt.Errorf("mtrader: not connected")
	}

	payload := map[string]any{
		"instrument": g.resolveSymbol(req.Symbol),
		"orderSide":  orderSide(req.Direction),
		"volume":     round2(req.Volume),
		"slPrice":    round5(req.StopLoss),
		"tpPrice":    round5(req.TakeProfit),
		"isMobile":   false,
	}

	resp, err := g.client.POST(ctx, g.mtrPath("position/open"), payload, g.authHeaders())
	if err != nil {
		return "", err
	}

	var result orderResult
	if err := resp.ParseJSON(&result); err != nil {
		return "", err
	}
	if !strings.EqualFold(result.Status, "OK") {
		reason := result.ErrorMessage
		if reason == "" {
			reason = result.Status
		}
		return "", fmt.Errorf("mtrader: order rejected: %s", reason)
	}
	return result.OrderID, nil
}

// ExecuteLimitOrder is not offered by the MatchTrader position API; callers
// must check SupportsLimitOrders and fall back to market entries.
func (g *Gateway) ExecuteLimitOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	return "", fmt.Errorf("mtrader: limit orders not supported")
}

func (g *Gateway) SupportsLimitOrders() bool { return false }

type mtrPosition struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	Alias      string `json:"alias"`
	Side       string `json:"side"`
	Volume     any    `json:"volume"`
	OpenPrice  any    `json:"openPrice"`
	StopLoss   any    `json:"stopLoss"`
	TakeProfit any    `json:"takeProfit"`
	Profit     any    `json:"profit"`
	OpenTime   string `json:"openTime"`
}

func (g *Gateway) fetchPositions(ctx context.Context) ([]mtrPosition, error) {
	resp, err := g.client.GET(ctx, g.mtrPath("open-positions"), g.authHeaders())
	if err != nil {
		return nil, err
	}
	var body struct {
		Positions []mtrPosition `json:"positions"`
	}
	if err := resp.ParseJSON(&body); err != nil {
		return nil, err
	}
	return body.Positions, nil
}

func (g *Gateway) findPosition(ctx context.Context, id string) (*mtrPosition, error) {
	positions, err := g.fetchPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		p := &positions[i]
		// Match by exact ID or by the numeric part; broker IDs carry a
		// letter prefix (W168933563011635).
		if p.ID == id || digits(p.ID) == id || strings.Contains(p.ID, id) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("mtrader: position %s not found", id)
}

func (g *Gateway) ModifyTrade(ctx context.Context, id string, stopLoss, takeProfit float64) error {
	pos, err := g.findPosition(ctx, id)
	if err != nil {
		return err
	}

	sl := round5(stopLoss)
	if stopLoss == 0 {
		sl = anyNum(pos.StopLoss)
	}
	tp := round5(takeProfit)
	if takeProfit == 0 {
		tp = anyNum(pos.TakeProfit)
	}

	payload := map[string]any{
		"instrument": g.positionSymbol(pos),
		"id":         pos.ID,
		"orderSide":  pos.Side,
		"volume":     anyNum(pos.Volume),
		"slPrice":    sl,
		"tpPrice":    tp,
		"isMobile":   false,
	}

	resp, err := g.client.POST(ctx, g.mtrPath("position/edit"), payload, g.authHeaders())
	if err != nil {
		return err
	}
	var result orderResult
	if err := resp.ParseJSON(&result); err != nil {
		return err
	}
	if !strings.EqualFold(result.Status, "OK") {
		return fmt.Errorf("mtrader: modify rejected: %s", result.ErrorMessage)
	}
	return nil
}

func (g *Gateway) CloseTrade(ctx context.Context, id string) error {
	pos, err := g.findPosition(ctx, id)
	if err != nil {
		return err
	}
	return g.closePosition(ctx, pos)
}

func (g *Gateway) closePosition(ctx context.Context, pos *mtrPosition) error {
	payload := map[string]any{
		"positionId": pos.ID,
		"instrument": g.positionSymbol(pos),
		"orderSide":  pos.Side,
		"volume":     fmt.Sprint(anyNum(pos.Volume)),
	}

	resp, err := g.client.POST(ctx, g.mtrPath("position/close"), payload, g.authHeaders())
	if err != nil {
		return err
	}
	var result orderResult
	if err := resp.ParseJSON(&result); err != nil {
		return err
	}
	if !strings.EqualFold(result.Status, "OK") {
		return fmt.Errorf("mtrader: close rejected: %s", result.ErrorMessage)
	}
	return nil
}

func (g *Gateway) CloseAllTrades(ctx context.Context, symbolFilter string) (int, error) {
	positions, err := g.fetchPositions(ctx)
	if err != nil {
		return 0, err
	}

	clean := strings.TrimRight(strings.ToUpper(symbolFilter), ".")
	closed := 0
	for i := range positions {
		p := &positions[i]
		if clean != "" && strings.TrimRight(strings.ToUpper(g.positionSymbol(p)), ".") != clean {
			continue
		}
		if err := g.closePosition(ctx, p); err != nil {
			logger.ErrorWithErr(ctx, "Failed to close position", err, "position", p.ID)
			continue
		}
		closed++
	}
	return closed, nil
}

func (g *Gateway) OpenPositions(ctx context.Context) ([]types.Position, error) {
	positions, err := g.fetchPositions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]types.Position, 0, len(positions))
	for i := range positions {
		p := &positions[i]
		direction := types.Buy
		if strings.EqualFold(p.Side, "SELL") {
			direction = types.Sell
		}
		ticket, _ := strconv.ParseInt(digits(p.ID), 10, 64)

		pos := types.Position{
			ID:         p.ID,
			Ticket:     ticket,
			Symbol:     strings.TrimRight(g.positionSymbol(p), "."),
			Direction:  direction,
			Volume:     anyNum(p.Volume),
			OpenPrice:  anyNum(p.OpenPrice),
			StopLoss:   anyNum(p.StopLoss),
			TakeProfit: anyNum(p.TakeProfit),
			Profit:     anyNum(p.Profit),
		}
		if t, err := time.Parse(time.RFC3339, p.OpenTime); err == nil {
			pos.OpenedAt = t
		}
		out = append(out, pos)
	}
	return out, nil
}

func (g *Gateway) TradeHistory(ctx context.Context, days int) ([]types.ClosedTrade, error) {
	now := time.Now().UTC()
	payload := map[string]string{
		"from": now.AddDate(0, 0, -days).Format("2006-01-02T00:00:00Z"),
		"to":   now.Format("2006-01-02T23:59:59Z"),
	}

	resp, err := g.client.POST(ctx, g.mtrPath("closed-positions"), payload, g.authHeaders())
	if err != nil {
		// History is best-effort.
		return nil, nil
	}

	var body struct {
		Positions []struct {
			ID          string `json:"id"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			Volume      any    `json:"volume"`
			OpenPrice   any    `json:"openPrice"`
			ClosePrice  any    `json:"closePrice"`
			Profit      any    `json:"profit"`
			CloseReason string `json:"closeReason"`
			CloseTime   string `json:"closeTime"`
		} `json:"positions"`
	}
	if err := resp.ParseJSON(&body); err != nil {
		return nil, nil
	}

	trades := make([]types.ClosedTrade, 0, len(body.Positions))
	for _, item := range body.Positions {
		direction := types.Buy
		if strings.EqualFold(item.Side, "SELL") {
			direction = types.Sell
		}
		ticket, _ := strconv.ParseInt(digits(item.ID), 10, 64)
		trade := types.ClosedTrade{
			Ticket:      ticket,
			Symbol:      strings.TrimRight(item.Symbol, "."),
			Direction:   direction,
			Volume:      anyNum(item.Volume),
			OpenPrice:   anyNum(item.OpenPrice),
			ClosePrice:  anyNum(item.ClosePrice),
			Profit:      anyNum(item.Profit),
			CloseReason: item.CloseReason,
		}
		if t, err := time.Parse(time.RFC3339, item.CloseTime); err == nil {
			trade.ClosedAt = t
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func (g *Gateway) positionSymbol(p *mtrPosition) string {
	if p.Symbol != "" {
		return p.Symbol
	}
	return p.Alias
}

func orderSide(d types.Direction) string {
	if d == types.Sell {
		return "SELL"
	}
	return "BUY"
}

// num parses a MatchTrader string-encoded number, 0 on failure.
func num(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// anyNum handles fields the API returns inconsistently as string or number.
func anyNum(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		return num(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	return 0
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func round2(v float64) float64 { return float64(int64(v*100+0.5)) / 100 }

func round5(v float64) float64 {
	if v == 0 {
		return 0
	}
	return float64(int64(v*100000+0.5)) / 100000
}
