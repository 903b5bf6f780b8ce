package account

import (
	"context"
	"testing"
	"time"

	"proptrader/internal/gateway/sim"
	"proptrader/internal/types"
)

func testManager(t *testing.T) (*Manager, *sim.Gateway) {
	t.Helper()
	m := NewManager(time.Minute)
	gw := sim.New(10000)
	m.Add(Config{
		AccountID: "alpha",
		Firm:      FirmGetLeveraged,
		Enabled:   true,
		Symbols:   []string{"EURUSD"},
	}, gw)
	m.Add(Config{
		AccountID: "bravo",
		Firm:      FirmApex,
		Enabled:   false,
	}, sim.New(10000))
	return m, gw
}

func TestEnabledIDs(t *testing.T) {
	m, _ := testManager(t)
	ids := m.EnabledIDs()
	if len(ids) != 1 || ids[0] != "alpha" {
		t.Errorf("Expected only the enabled account, got %v", ids)
	}
	if len(m.IDs()) != 2 {
		t.Errorf("Expected 2 registered accounts, got %d", len(m.IDs()))
	}
}

func TestConnectAll(t *testing.T) {
	m, _ := testManager(t)
	results := m.ConnectAll(context.Background())
	if len(results) != 1 || !results["alpha"] {
		t.Fatalf("Expected alpha connected, got %v", results)
	}

	acct, _ := m.Get("alpha")
	snap := acct.Tracker.Snapshot()
	if !snap.Connected || snap.StartingBalance != 10000 {
		t.Errorf("Expected seeded tracker, got %+v", snap)
	}
}

func TestExecuteOnFillsAndRecords(t *testing.T) {
	m, gw := testManager(t)
	ctx := context.Background()
	m.ConnectAll(ctx)
	gw.SetPrice("EURUSD", 1.1000)

	orderID, err := m.ExecuteOn(ctx, "alpha", types.OrderRequest{
		Symbol:    "EURUSD",
		Direction: types.Buy,
		Type:      types.OrderMarket,
		Volume:    0.05,
	})
	if err != nil {
		t.Fatalf("Expected order to fill: %v", err)
	}
	if orderID != "sim-1" {
		t.Errorf("Expected order id sim-1, got %q", orderID)
	}

	acct, _ := m.Get("alpha")
	if snap := acct.Tracker.Snapshot(); snap.TradesToday != 1 || snap.OpenPositions != 1 {
		t.Errorf("Expected trade recorded, got %+v", snap)
	}
}

func TestExecuteOnClampsVolume(t *testing.T) {
	m, gw := testManager(t)
	ctx := context.Background()
	m.ConnectAll(ctx)
	gw.SetPrice("EURUSD", 1.1000)

	// GET_LEVERAGED caps at 5.0 lots.
	if _, err := m.ExecuteOn(ctx, "alpha", types.OrderRequest{
		Symbol:    "EURUSD",
		Direction: types.Buy,
		Volume:    9.0,
	}); err != nil {
		t.Fatalf("Expected order to fill: %v", err)
	}
	positions, _ := gw.OpenPositions(ctx)
	if len(positions) != 1 || positions[0].Volume != 5.0 {
		t.Errorf("Expected volume clamped to 5.0, got %v", positions)
	}
}

func TestExecuteOnLimitFallsBackToMarket(t *testing.T) {
	m, gw := testManager(t)
	ctx := context.Background()
	m.ConnectAll(ctx)
	gw.SetPrice("EURUSD", 1.1000)

	// The sim venue rejects limit orders, so the request must fall
	// back to a market entry.
	if _, err := m.ExecuteOn(ctx, "alpha", types.OrderRequest{
		Symbol:     "EURUSD",
		Direction:  types.Sell,
		Type:       types.OrderLimit,
		LimitPrice: 1.1010,
		Volume:     0.05,
	}); err != nil {
		t.Fatalf("Expected market fallback to fill: %v", err)
	}
	positions, _ := gw.OpenPositions(ctx)
	if len(positions) != 1 {
		t.Fatalf("Expected one open position, got %d", len(positions))
	}
}

func TestExecuteOnBlockedAfterBreach(t *testing.T) {
	m, gw := testManager(t)
	ctx := context.Background()
	m.ConnectAll(ctx)

	acct, _ := m.Get("alpha")
	acct.Tracker.Apply(types.AccountState{Balance: 10000, Equity: 9300}, time.Now().UTC())
	gw.SetPrice("EURUSD", 1.1000)

	if _, err := m.ExecuteOn(ctx, "alpha", types.OrderRequest{
		Symbol:    "EURUSD",
		Direction: types.Buy,
		Volume:    0.05,
	}); err == nil {
		t.Fatal("Expected execution blocked after daily loss breach")
	}
	if positions, _ := gw.OpenPositions(ctx); len(positions) != 0 {
		t.Errorf("Expected no positions, got %d", len(positions))
	}
}

func TestMonitorFlattensOnBreach(t *testing.T) {
	m := NewManager(10 * time.Millisecond)
	gw := sim.New(10000)
	m.Add(Config{
		AccountID: "alpha",
		Firm:      FirmGetLeveraged,
		Enabled:   true,
		Symbols:   []string{"EURUSD"},
	}, gw)

	ctx := context.Background()
	m.ConnectAll(ctx)
	gw.SetPrice("EURUSD", 1.1000)
	if _, err := m.ExecuteOn(ctx, "alpha", types.OrderRequest{
		Symbol:    "EURUSD",
		Direction: types.Buy,
		Volume:    0.05,
	}); err != nil {
		t.Fatalf("Expected order to fill: %v", err)
	}

	m.StartMonitors(ctx)
	defer m.Stop()

	// Drop equity past the 5% daily limit and wait for the monitor to
	// notice and flatten the account.
	gw.SetEquity(9300)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if positions, _ := gw.OpenPositions(ctx); len(positions) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if positions, _ := gw.OpenPositions(ctx); len(positions) != 0 {
		t.Fatal("Expected monitor to flatten positions after breach")
	}
	if ok, _ := m.CanTrade("alpha"); ok {
		t.Error("Expected trading blocked after breach")
	}
}

func TestCustomRulesOverride(t *testing.T) {
	m := NewManager(time.Minute)
	custom := PresetRules(FirmGeneric)
	custom.MaxPositions = 1
	m.Add(Config{AccountID: "alpha", Firm: FirmGeneric, Enabled: true, CustomRules: &custom}, sim.New(10000))

	acct, _ := m.Get("alpha")
	if acct.Rules.MaxPositions != 1 {
		t.Errorf("Expected custom max positions 1, got %d", acct.Rules.MaxPositions)
	}
}

func TestStatus(t *testing.T) {
	m, _ := testManager(t)
	m.ConnectAll(context.Background())

	status := m.Status()
	if status["total_accounts"] != 2 {
		t.Errorf("Expected 2 total accounts, got %v", status["total_accounts"])
	}
	if status["connected_accounts"] != 1 {
		t.Errorf("Expected 1 connected account, got %v", status["connected_accounts"])
	}
}
