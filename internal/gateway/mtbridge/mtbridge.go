// Package mtbridge implements the execution gateway for a remote MT5 bridge
// server. The bridge is a small HTTP service running next to a MetaTrader 5
// terminal; it exposes the terminal's account, market data, and order entry
// over REST plus a websocket tick stream. Unlike MatchTrader, MT5 accepts
// pending limit orders, which index instruments use for entries.
package mtbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"proptrader/internal/api"
	"proptrader/internal/interfaces"
	"proptrader/internal/logger"
	"proptrader/internal/types"
)

// Config holds the connection details for one bridge server.
type Config struct {
	ServerURL string
	AuthKey   string
	// StreamQuotes opens the websocket tick feed on connect. When the feed
	// is down CurrentPrice falls back to polling the REST endpoint.
	StreamQuotes bool
}

// Gateway talks to a remote MT5 bridge server.
type Gateway struct {
	cfg    Config
	client *api.Client

	mu        sync.RWMutex
	connected bool
	quotes    map[string]types.Quote

	ws       *websocket.Conn
	wsCancel context.CancelFunc
	wsDone   chan struct{}
}

var _ interfaces.Gateway = (*Gateway)(nil)

// New creates a gateway for the given bridge server.
func New(cfg Config) *Gateway {
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	return &Gateway{
		cfg: cfg,
		client: api.NewClient(
			api.WithBaseURL(cfg.ServerURL),
			api.WithTimeout(30*time.Second),
			api.WithHeader("Authorization", "Bearer "+cfg.AuthKey),
			api.WithLogging(true),
		),
		quotes: make(map[string]types.Quote),
	}
}

// Connect verifies the bridge is reachable and its terminal is logged in,
// then opens the quote stream if configured.
func (g *Gateway) Connect(ctx context.Context) error {
	if g.cfg.ServerURL == "" || g.cfg.AuthKey == "" {
		return fmt.Errorf("mtbridge: server URL or auth key not configured")
	}

	resp, err := g.client.GET(ctx, "/health")
	if err != nil {
		return fmt.Errorf("mtbridge: server unreachable: %w", err)
	}

	var health struct {
		Connected bool   `json:"connected"`
		Account   any    `json:"account"`
		Server    string `json:"server"`
	}
	if err := resp.ParseJSON(&health); err != nil {
		return fmt.Errorf("mtbridge: bad health response: %w", err)
	}
	if !health.Connected {
		return fmt.Errorf("mtbridge: server is running but the terminal is not connected")
	}

	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()

	if g.cfg.StreamQuotes {
		if err := g.openStream(); err != nil {
			logger.Warn(ctx, "Quote stream unavailable, falling back to polling", "error", err)
		}
	}

	logger.Info(ctx, "MT5 bridge connected",
		"server", g.cfg.ServerURL,
		"account", fmt.Sprint(health.Account),
		"terminal", health.Server)
	return nil
}

func (g *Gateway) Disconnect(ctx context.Context) error {
	g.mu.Lock()
	g.connected = false
	ws := g.ws
	cancel := g.wsCancel
	done := g.wsDone
	g.ws = nil
	g.wsCancel = nil
	g.wsDone = nil
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		ws.Close()
	}
	if done != nil {
		<-done
	}
	logger.Info(ctx, "MT5 bridge disconnected", "server", g.cfg.ServerURL)
	return nil
}

func (g *Gateway) IsConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

// openStream dials the websocket tick feed and starts the reader.
func (g *Gateway) openStream() error {
	wsURL := strings.Replace(g.cfg.ServerURL, "http", "ws", 1) + "/ws/prices"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+g.cfg.AuthKey)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	g.mu.Lock()
	g.ws = conn
	g.wsCancel = cancel
	g.wsDone = done
	g.mu.Unlock()

	go g.readStream(ctx, conn, done)
	return nil
}

func (g *Gateway) readStream(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var tick struct {
			Symbol string  `json:"symbol"`
			Bid    float64 `json:"bid"`
			Ask    float64 `json:"ask"`
			Spread float64 `json:"spread"`
		}
		if err := conn.ReadJSON(&tick); err != nil {
			if ctx.Err() == nil {
				logger.Warn(ctx, "Quote stream closed", "error", err)
			}
			return
		}
		if tick.Symbol == "" || tick.Bid <= 0 {
			continue
		}
		g.mu.Lock()
		g.quotes[tick.Symbol] = types.Quote{Bid: tick.Bid, Ask: tick.Ask, Spread: tick.Spread}
		g.mu.Unlock()
	}
}

func (g *Gateway) AccountState(ctx context.Context) (types.AccountState, error) {
	resp, err := g.client.GET(ctx, "/account")
	if err != nil {
		return types.AccountState{}, err
	}

	var body struct {
		Balance     float64 `json:"balance"`
		Equity      float64 `json:"equity"`
		Margin      float64 `json:"margin"`
		FreeMargin  float64 `json:"free_margin"`
		MarginLevel float64 `json:"margin_level"`
		OpenTrades  int     `json:"open_trades"`
	}
	if err := resp.ParseJSON(&body); err != nil {
		return types.AccountState{}, err
	}
	return types.AccountState{
		Balance:     body.Balance,
		Equity:      body.Equity,
		Margin:      body.Margin,
		FreeMargin:  body.FreeMargin,
		MarginLevel: body.MarginLevel,
		OpenTrades:  body.OpenTrades,
	}, nil
}

func (g *Gateway) Candles(ctx context.Context, symbol, timeframe string, n int) ([]types.Candle, error) {
	path := fmt.Sprintf("/candles/%s?timeframe=%s&count=%d", symbol, timeframe, n)
	resp, err := g.client.GET(ctx, path)
	if err != nil {
		return nil, err
	}

	var bars []struct {
		Time       string  `json:"time"`
		Open       float64 `json:"open"`
		High       float64 `json:"high"`
		Low        float64 `json:"low"`
		Close      float64 `json:"close"`
		TickVolume float64 `json:"tick_volume"`
	}
	if err := resp.ParseJSON(&bars); err != nil {
		return nil, err
	}

	candles := make([]types.Candle, 0, len(bars))
	for _, bar := range bars {
		ts, err := time.Parse(time.RFC3339, bar.Time)
		if err != nil {
			continue
		}
		candles = append(candles, types.Candle{
			Ts:    ts.Unix(),
			Open:  bar.Open,
			High:  bar.High,
			Low:   bar.Low,
			Close: bar.Close,
			Vol:   bar.TickVolume,
		})
	}
	return candles, nil
}

func (g *Gateway) CurrentPrice(ctx context.Context, symbol string) (types.Quote, error) {
	g.mu.RLock()
	cached, ok := g.quotes[symbol]
	streaming := g.ws != nil
	g.mu.RUnlock()
	if streaming && ok {
		return cached, nil
	}

	resp, err := g.client.GET(ctx, "/price/"+symbol)
	if err != nil {
		if ok {
			return cached, nil
		}
		return types.Quote{}, err
	}

	var body struct {
		Bid    float64 `json:"bid"`
		Ask    float64 `json:"ask"`
		Spread float64 `json:"spread"`
	}
	if err := resp.ParseJSON(&body); err != nil {
		return types.Quote{}, err
	}
	if body.Bid <= 0 || body.Ask <= 0 {
		return types.Quote{}, fmt.Errorf("mtbridge: no quote for %s", symbol)
	}

	quote := types.Quote{Bid: body.Bid, Ask: body.Ask, Spread: body.Spread}
	g.mu.Lock()
	g.quotes[symbol] = quote
	g.mu.Unlock()
	return quote, nil
}

type orderResult struct {
	Status  string          `json:"status"`
	Order   json.RawMessage `json:"order"`
	Message string          `json:"message"`
}

func (r *orderResult) orderID() string {
	return strings.Trim(string(r.Order), `"`)
}

func (g *Gateway) ExecuteMarketOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	if !g.IsConnected() {
		return "", fmt.Errorf("mtbridge: not connected")
	}

	resp, err := g.client.POST(ctx, "/trade/open", map[string]any{
		"symbol":    req.Symbol,
		"direction": orderSide(req.Direction),
		"volume":    round2(req.Volume),
		"sl":        round5(req.StopLoss),
		"tp":        round5(req.TakeProfit),
		"comment":   req.Tag,
	})
	if err != nil {
		return "", err
	}

	var result orderResult
	if err := resp.ParseJSON(&result); err != nil {
		return "", err
	}
	if !strings.EqualFold(result.Status, "OK") {
		return "", fmt.Errorf("mtbridge: order rejected: %s", result.Message)
	}
	return result.orderID(), nil
}

// ExecuteLimitOrder places a pending limit order, used by index instruments
// to enter at a retracement price instead of chasing the market.
func (g *Gateway) ExecuteLimitOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	if !g.IsConnected() {
		return "", fmt.Errorf("mtbridge: not connected")
	}

	resp, err := g.client.POST(ctx, "/trade/limit", map[string]any{
		"symbol":    req.Symbol,
		"direction": orderSide(req.Direction),
		"volume":    round2(req.Volume),
		"price":     round5(req.LimitPrice),
		"sl":        round5(req.StopLoss),
		"tp":        round5(req.TakeProfit),
		"comment":   req.Tag,
	})
	if err != nil {
		return "", err
	}

	var result orderResult
	if err := resp.ParseJSON(&result); err != nil {
		return "", err
	}
	if !strings.EqualFold(result.Status, "OK") {
		return "", fmt.Errorf("mtbridge: limit order rejected: %s", result.Message)
	}
	return result.orderID(), nil
}

func (g *Gateway) SupportsLimitOrders() bool { return true }

func (g *Gateway) ModifyTrade(ctx context.Context, id string, stopLoss, takeProfit float64) error {
	payload := map[string]any{"ticket": ticketOf(id)}
	if stopLoss > 0 {
		payload["sl"] = round5(stopLoss)
	}
	if takeProfit > 0 {
		payload["tp"] = round5(takeProfit)
	}

	resp, err := g.client.POST(ctx, "/trade/modify", payload)
	if err != nil {
		return err
	}
	var result struct {
		Modified bool   `json:"modified"`
		Message  string `json:"message"`
	}
	if err := resp.ParseJSON(&result); err != nil {
		return err
	}
	if !result.Modified {
		return fmt.Errorf("mtbridge: modify rejected: %s", result.Message)
	}
	return nil
}

func (g *Gateway) CloseTrade(ctx context.Context, id string) error {
	resp, err := g.client.POST(ctx, "/trade/close", map[string]any{"ticket": ticketOf(id)})
	if err != nil {
		return err
	}
	var result struct {
		Closed  bool   `json:"closed"`
		Message string `json:"message"`
	}
	if err := resp.ParseJSON(&result); err != nil {
		return err
	}
	if !result.Closed {
		return fmt.Errorf("mtbridge: close rejected: %s", result.Message)
	}
	return nil
}

func (g *Gateway) CloseAllTrades(ctx context.Context, symbolFilter string) (int, error) {
	payload := map[string]any{}
	if symbolFilter != "" {
		payload["symbol"] = symbolFilter
	}

	resp, err := g.client.POST(ctx, "/trade/close-all", payload)
	if err != nil {
		return 0, err
	}
	var result struct {
		Closed int `json:"closed"`
	}
	if err := resp.ParseJSON(&result); err != nil {
		return 0, err
	}
	return result.Closed, nil
}

func (g *Gateway) OpenPositions(ctx context.Context) ([]types.Position, error) {
	resp, err := g.client.GET(ctx, "/positions")
	if err != nil {
		return nil, err
	}

	var positions []struct {
		Ticket    int64   `json:"ticket"`
		Symbol    string  `json:"symbol"`
		Type      int     `json:"type"` // 0 buy, 1 sell
		Lots      float64 `json:"lots"`
		OpenPrice float64 `json:"open_price"`
		SL        float64 `json:"sl"`
		TP        float64 `json:"tp"`
		Profit    float64 `json:"profit"`
		OpenTime  string  `json:"open_time"`
	}
	if err := resp.ParseJSON(&positions); err != nil {
		return nil, err
	}

	out := make([]types.Position, 0, len(positions))
	for _, p := range positions {
		direction := types.Buy
		if p.Type == 1 {
			direction = types.Sell
		}
		pos := types.Position{
			ID:         strconv.FormatInt(p.Ticket, 10),
			Ticket:     p.Ticket,
			Symbol:     p.Symbol,
			Direction:  direction,
			Volume:     p.Lots,
			OpenPrice:  p.OpenPrice,
			StopLoss:   p.SL,
			TakeProfit: p.TP,
			Profit:     p.Profit,
		}
		if t, err := time.Parse(time.RFC3339, p.OpenTime); err == nil {
			pos.OpenedAt = t
		}
		out = append(out, pos)
	}
	return out, nil
}

func (g *Gateway) TradeHistory(ctx context.Context, days int) ([]types.ClosedTrade, error) {
	resp, err := g.client.GET(ctx, fmt.Sprintf("/history?days=%d", days))
	if err != nil {
		// History is best-effort.
		return nil, nil
	}

	var deals []struct {
		Ticket     int64   `json:"ticket"`
		Symbol     string  `json:"symbol"`
		Type       int     `json:"type"`
		Lots       float64 `json:"lots"`
		OpenPrice  float64 `json:"open_price"`
		ClosePrice float64 `json:"close_price"`
		Profit     float64 `json:"profit"`
		Reason     string  `json:"reason"`
		CloseTime  string  `json:"close_time"`
	}
	if err := resp.ParseJSON(&deals); err != nil {
		return nil, nil
	}

	trades := make([]types.ClosedTrade, 0, len(deals))
	for _, d := range deals {
		direction := types.Buy
		if d.Type == 1 {
			direction = types.Sell
		}
		trade := types.ClosedTrade{
			Ticket:      d.Ticket,
			Symbol:      d.Symbol,
			Direction:   direction,
			Volume:      d.Lots,
			OpenPrice:   d.OpenPrice,
			ClosePrice:  d.ClosePrice,
			Profit:      d.Profit,
			CloseReason: d.Reason,
		}
		if t, err := time.Parse(time.RFC3339, d.CloseTime); err == nil {
			trade.ClosedAt = t
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func orderSide(d types.Direction) string {
	if d == types.Sell {
		return "SELL"
	}
	return "BUY"
}

func ticketOf(id string) int64 {
	t, _ := strconv.ParseInt(id, 10, 64)
	return t
}

func round2(v float64) float64 { return float64(int64(v*100+0.5)) / 100 }

func round5(v float64) float64 {
	if v == 0 {
		return 0
	}
	return float64(int64(v*100000+0.5)) / 100000
}
