// Package sim provides an in-memory venue used by DRY_RUN mode and tests.
// It fills market orders instantly at the posted quote, marks open positions
// to the current price, and triggers stops and targets on price updates.
package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"proptrader/internal/interfaces"
	"proptrader/internal/types"
)

// Gateway is a simulated trading venue. Quotes and candles are fed in by the
// caller (tests, or a replay feed in DRY_RUN mode).
type Gateway struct {
	mu sync.Mutex

	connected bool
	balance   float64
	equity    float64

	quotes  map[string]types.Quote
	candles map[string][]types.Candle

	positions map[string]*types.Position
	closed    []types.ClosedTrade
	nextID    int

	// Spread applied when a quote is set via SetPrice, in price units.
	Spread float64
	// PointValue maps a symbol to PnL per unit price move per lot.
	// Defaults to 100000 (standard FX contract) when unset.
	PointValue map[string]float64
}

var _ interfaces.Gateway = (*Gateway)(nil)

// New creates a simulated gateway seeded with the given balance.
func New(balance float64) *Gateway {
	return &Gateway{
		balance:    balance,
		equity:     balance,
		quotes:     make(map[string]types.Quote),
		candles:    make(map[string][]types.Candle),
		positions:  make(map[string]*types.Position),
		PointValue: make(map[string]float64),
		nextID:     1,
	}
}

func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true
	return nil
}

func (g *Gateway) Disconnect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
	return nil
}

func (g *Gateway) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// SetPrice posts a new mid price for the symbol and re-marks open positions,
// closing any whose stop or target the move crossed.
func (g *Gateway) SetPrice(symbol string, mid float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	half := g.Spread / 2
	g.quotes[symbol] = types.Quote{Bid: mid - half, Ask: mid + half, Spread: g.Spread}
	g.markPositions()
}

// SetQuote posts an explicit bid/ask for the symbol.
func (g *Gateway) SetQuote(symbol string, q types.Quote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quotes[symbol] = q
	g.markPositions()
}

// SetCandles installs the candle series returned for a symbol, oldest first.
func (g *Gateway) SetCandles(symbol string, candles []types.Candle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.candles[symbol] = candles
}

// SetEquity overrides the marked equity. Tests use this to simulate drawdown
// without constructing positions.
func (g *Gateway) SetEquity(equity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.equity = equity
}

func (g *Gateway) AccountState(ctx context.Context) (types.AccountState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return types.AccountState{}, fmt.Errorf("sim: not connected")
	}
	return types.AccountState{
		Balance:    g.balance,
		Equity:     g.equity,
		FreeMargin: g.equity,
		OpenTrades: len(g.positions),
	}, nil
}

func (g *Gateway) Candles(ctx context.Context, symbol, timeframe string, n int) ([]types.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	series, ok := g.candles[symbol]
	if !ok {
		return nil, fmt.Errorf("sim: no candles for %s", symbol)
	}
	if n > 0 && len(series) > n {
		series = series[len(series)-n:]
	}
	out := make([]types.Candle, len(series))
	copy(out, series)
	return out, nil
}

func (g *Gateway) CurrentPrice(ctx context.Context, symbol string) (types.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.quotes[symbol]
	if !ok {
		return types.Quote{}, fmt.Errorf("sim: no quote for %s", symbol)
	}
	return q, nil
}

func (g *Gateway) ExecuteMarketOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return "", fmt.Errorf("sim: not connected")
	}
	q, ok := g.quotes[req.Symbol]
	if !ok {
		return "", fmt.Errorf("sim: no quote for %s", req.Symbol)
	}

	fill := q.Ask
	if req.Direction == types.Sell {
		fill = q.Bid
	}

	ticket := int64(g.nextID)
	id := fmt.Sprintf("sim-%d", g.nextID)
	g.nextID++
	g.positions[id] = &types.Position{
		ID:         id,
		Ticket:     ticket,
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Volume:     req.Volume,
		OpenPrice:  fill,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		OpenedAt:   time.Now().UTC(),
	}
	return id, nil
}

// ExecuteLimitOrder is not supported; the scheduler must fall back to market
// entries when SupportsLimitOrders reports false.
func (g *Gateway) ExecuteLimitOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	return "", fmt.Errorf("sim: limit orders not supported")
}

func (g *Gateway) SupportsLimitOrders() bool { return false }

func (g *Gateway) ModifyTrade(ctx context.Context, id string, stopLoss, takeProfit float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.positions[id]
	if !ok {
		return fmt.Errorf("sim: no position %s", id)
	}
	if stopLoss > 0 {
		p.StopLoss = stopLoss
	}
	if takeProfit > 0 {
		p.TakeProfit = takeProfit
	}
	return nil
}

func (g *Gateway) CloseTrade(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.positions[id]
	if !ok {
		return fmt.Errorf("sim: no position %s", id)
	}
	g.closePosition(p, "manual")
	return nil
}

func (g *Gateway) CloseAllTrades(ctx context.Context, symbolFilter string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	closed := 0
	for _, p := range g.positions {
		if symbolFilter != "" && !strings.EqualFold(p.Symbol, symbolFilter) {
			continue
		}
		g.closePosition(p, "close all")
		closed++
	}
	return closed, nil
}

func (g *Gateway) OpenPositions(ctx context.Context) ([]types.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.Position, 0, len(g.positions))
	for _, p := range g.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (g *Gateway) TradeHistory(ctx context.Context, days int) ([]types.ClosedTrade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	out := make([]types.ClosedTrade, 0, len(g.closed))
	for _, t := range g.closed {
		if t.ClosedAt.After(cutoff) {
			out = append(out, t)
		}
	}
	return out, nil
}

// markPositions revalues every open position at the current quote, fires
// stops and targets, and recomputes equity. Caller holds the lock.
func (g *Gateway) markPositions() {
	for _, p := range g.positions {
		q, ok := g.quotes[p.Symbol]
		if !ok {
			continue
		}

		exit := q.Bid
		if p.Direction == types.Sell {
			exit = q.Ask
		}

		move := exit - p.OpenPrice
		if p.Direction == types.Sell {
			move = p.OpenPrice - exit
		}
		p.Profit = move * p.Volume * g.pointValue(p.Symbol)

		stopped := p.StopLoss > 0 && ((p.Direction == types.Buy && exit <= p.StopLoss) ||
			(p.Direction == types.Sell && exit >= p.StopLoss))
		targeted := p.TakeProfit > 0 && ((p.Direction == types.Buy && exit >= p.TakeProfit) ||
			(p.Direction == types.Sell && exit <= p.TakeProfit))
		if stopped {
			g.closePosition(p, "stop loss")
			continue
		}
		if targeted {
			g.closePosition(p, "take profit")
		}
	}

	// Floating PnL accumulates only after triggered closes have settled
	// into balance, so a close cannot wipe another position's mark.
	g.equity = g.balance
	for _, p := range g.positions {
		if _, ok := g.quotes[p.Symbol]; ok {
			g.equity += p.Profit
		}
	}
}

// closePosition realizes the position's PnL into balance. Caller holds the lock.
func (g *Gateway) closePosition(p *types.Position, reason string) {
	q, ok := g.quotes[p.Symbol]
	exit := p.OpenPrice
	if ok {
		exit = q.Bid
		if p.Direction == types.Sell {
			exit = q.Ask
		}
	}
	move := exit - p.OpenPrice
	if p.Direction == types.Sell {
		move = p.OpenPrice - exit
	}
	profit := move * p.Volume * g.pointValue(p.Symbol)

	g.balance += profit
	g.equity = g.balance
	g.closed = append(g.closed, types.ClosedTrade{
		Ticket:      p.Ticket,
		Symbol:      p.Symbol,
		Direction:   p.Direction,
		Volume:      p.Volume,
		OpenPrice:   p.OpenPrice,
		ClosePrice:  exit,
		Profit:      profit,
		CloseReason: reason,
		ClosedAt:    time.Now().UTC(),
	})
	delete(g.positions, p.ID)
}

func (g *Gateway) pointValue(symbol string) float64 {
	if v, ok := g.PointValue[symbol]; ok {
		return v
	}
	return 100000
}
