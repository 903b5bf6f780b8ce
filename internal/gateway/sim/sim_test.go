package sim

import (
	"context"
	"math"
	"testing"

	"proptrader/internal/types"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestFillAndMarking(t *testing.T) {
	ctx := context.Background()
	g := New(10000)
	g.Connect(ctx)
	g.Spread = 0.0002
	g.SetPrice("EURUSD", 1.1000)

	q, err := g.CurrentPrice(ctx, "EURUSD")
	if err != nil {
		t.Fatalf("CurrentPrice: %v", err)
	}
	if q.Bid != 1.0999 || q.Ask != 1.1001 {
		t.Errorf("Unexpected quote: %+v", q)
	}

	id, err := g.ExecuteMarketOrder(ctx, types.OrderRequest{
		Symbol: "EURUSD", Direction: types.Buy, Volume: 0.1,
	})
	if err != nil {
		t.Fatalf("ExecuteMarketOrder: %v", err)
	}
	if id != "sim-1" {
		t.Errorf("Expected id sim-1, got %q", id)
	}

	positions, _ := g.OpenPositions(ctx)
	if len(positions) != 1 || positions[0].OpenPrice != 1.1001 {
		t.Fatalf("Expected buy filled at the ask, got %+v", positions)
	}

	// 10 pips up: unrealized profit marks into equity.
	g.SetPrice("EURUSD", 1.1011)
	state, _ := g.AccountState(ctx)
	// Closes at the bid 1.1010, 9 pips at 0.1 lots.
	if !near(state.Equity, 10090) {
		t.Errorf("Expected equity 10090, got %v", state.Equity)
	}
	if !near(state.Balance, 10000) {
		t.Errorf("Expected untouched balance, got %v", state.Balance)
	}
}

func TestStopTrigger(t *testing.T) {
	ctx := context.Background()
	g := New(10000)
	g.Connect(ctx)
	g.SetPrice("EURUSD", 1.1000)

	g.ExecuteMarketOrder(ctx, types.OrderRequest{
		Symbol: "EURUSD", Direction: types.Buy, Volume: 0.1, StopLoss: 1.0990,
	})

	g.SetPrice("EURUSD", 1.0989)
	if positions, _ := g.OpenPositions(ctx); len(positions) != 0 {
		t.Fatal("Expected stop to close the position")
	}

	history, _ := g.TradeHistory(ctx, 1)
	if len(history) != 1 {
		t.Fatalf("Expected one closed trade, got %d", len(history))
	}
	if history[0].CloseReason != "stop loss" {
		t.Errorf("Expected stop loss close, got %q", history[0].CloseReason)
	}
	// 11 pips against 0.1 lots.
	if !near(history[0].Profit, -110) {
		t.Errorf("Expected -110 profit, got %v", history[0].Profit)
	}

	state, _ := g.AccountState(ctx)
	if !near(state.Balance, 9890) {
		t.Errorf("Expected realized loss in balance, got %v", state.Balance)
	}
}

func TestTakeProfitTrigger(t *testing.T) {
	ctx := context.Background()
	g := New(10000)
	g.Connect(ctx)
	g.SetPrice("EURUSD", 1.1000)

	g.ExecuteMarketOrder(ctx, types.OrderRequest{
		Symbol: "EURUSD", Direction: types.Sell, Volume: 0.1, TakeProfit: 1.0980,
	})

	g.SetPrice("EURUSD", 1.0979)
	history, _ := g.TradeHistory(ctx, 1)
	if len(history) != 1 || history[0].CloseReason != "take profit" {
		t.Fatalf("Expected take profit close, got %+v", history)
	}
	if !near(history[0].Profit, 210) {
		t.Errorf("Expected 210 profit, got %v", history[0].Profit)
	}
}

func TestCloseAllWithFilter(t *testing.T) {
	ctx := context.Background()
	g := New(10000)
	g.Connect(ctx)
	g.SetPrice("EURUSD", 1.1000)
	g.SetPrice("GBPUSD", 1.2500)

	g.ExecuteMarketOrder(ctx, types.OrderRequest{Symbol: "EURUSD", Direction: types.Buy, Volume: 0.1})
	g.ExecuteMarketOrder(ctx, types.OrderRequest{Symbol: "GBPUSD", Direction: types.Buy, Volume: 0.1})

	closed, err := g.CloseAllTrades(ctx, "eurusd")
	if err != nil || closed != 1 {
		t.Fatalf("Expected 1 closed for the filter, got %d (%v)", closed, err)
	}
	positions, _ := g.OpenPositions(ctx)
	if len(positions) != 1 || positions[0].Symbol != "GBPUSD" {
		t.Errorf("Expected only GBPUSD left, got %+v", positions)
	}

	closed, _ = g.CloseAllTrades(ctx, "")
	if closed != 1 {
		t.Errorf("Expected remaining position closed, got %d", closed)
	}
}

func TestLimitOrdersUnsupported(t *testing.T) {
	g := New(10000)
	if g.SupportsLimitOrders() {
		t.Error("Expected limit orders unsupported")
	}
	if _, err := g.ExecuteLimitOrder(context.Background(), types.OrderRequest{}); err == nil {
		t.Error("Expected limit order rejection")
	}
}

func TestNotConnected(t *testing.T) {
	g := New(10000)
	if _, err := g.AccountState(context.Background()); err == nil {
		t.Error("Expected error before Connect")
	}
	if _, err := g.ExecuteMarketOrder(context.Background(), types.OrderRequest{Symbol: "EURUSD"}); err == nil {
		t.Error("Expected order rejected before Connect")
	}
}

func TestModifyTrade(t *testing.T) {
	ctx := context.Background()
	g := New(10000)
	g.Connect(ctx)
	g.SetPrice("EURUSD", 1.1000)

	id, _ := g.ExecuteMarketOrder(ctx, types.OrderRequest{
		Symbol: "EURUSD", Direction: types.Buy, Volume: 0.1, StopLoss: 1.0950, TakeProfit: 1.1100,
	})

	if err := g.ModifyTrade(ctx, id, 1.0980, 0); err != nil {
		t.Fatalf("ModifyTrade: %v", err)
	}
	positions, _ := g.OpenPositions(ctx)
	if positions[0].StopLoss != 1.0980 {
		t.Errorf("Expected stop 1.0980, got %v", positions[0].StopLoss)
	}
	if positions[0].TakeProfit != 1.1100 {
		t.Errorf("Expected target untouched, got %v", positions[0].TakeProfit)
	}

	if err := g.ModifyTrade(ctx, "sim-99", 1.0, 0); err == nil {
		t.Error("Expected error for unknown position")
	}
}

func TestStopCloseKeepsOtherFloatingProfit(t *testing.T) {
	ctx := context.Background()
	gw := New(10000)
	gw.Connect(ctx)
	gw.SetPrice("EURUSD", 1.1000)
	gw.SetPrice("GBPUSD", 1.2000)

	if _, err := gw.ExecuteMarketOrder(ctx, types.OrderRequest{
		Symbol: "EURUSD", Direction: types.Buy, Volume: 0.1, StopLoss: 1.0990,
	}); err != nil {
		t.Fatalf("Order failed: %v", err)
	}
	if _, err := gw.ExecuteMarketOrder(ctx, types.OrderRequest{
		Symbol: "GBPUSD", Direction: types.Buy, Volume: 0.1,
	}); err != nil {
		t.Fatalf("Order failed: %v", err)
	}

	// The cable position floats 10 in profit, then the euro stop fires.
	gw.SetPrice("GBPUSD", 1.2010)
	gw.SetPrice("EURUSD", 1.0989)

	state, err := gw.AccountState(ctx)
	if err != nil {
		t.Fatalf("AccountState: %v", err)
	}
	if !near(state.Balance, 9890) {
		t.Errorf("Expected balance 9890 after the stop, got %v", state.Balance)
	}
	if !near(state.Equity, 9900) {
		t.Errorf("Expected equity to keep the floating 10, got %v", state.Equity)
	}
	if state.OpenTrades != 1 {
		t.Errorf("Expected 1 surviving position, got %d", state.OpenTrades)
	}
}
