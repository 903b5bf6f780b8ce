package account

import (
	"testing"
	"time"

	"proptrader/internal/types"
)

func seededTracker(firm FirmType, balance float64) *Tracker {
	tr := NewTracker("test-acc", PresetRules(firm))
	tr.SetConnected(types.AccountState{Balance: balance, Equity: balance}, time.Now().UTC())
	return tr
}

func TestDailyLossBreachOnce(t *testing.T) {
	tr := seededTracker(FirmGetLeveraged, 10000)
	now := time.Now().UTC()

	// 4% down, still inside the 5% daily limit.
	breaches := tr.Apply(types.AccountState{Balance: 10000, Equity: 9600}, now)
	if len(breaches) != 0 {
		t.Fatalf("Expected no breach at 4%% drawdown, got %v", breaches)
	}
	if ok, _ := tr.CanTrade(); !ok {
		t.Error("Expected trading allowed at 4% drawdown")
	}

	// 6% down crosses the limit.
	breaches = tr.Apply(types.AccountState{Balance: 10000, Equity: 9400}, now)
	if len(breaches) != 1 || breaches[0].Kind != BreachDailyLoss {
		t.Fatalf("Expected a single daily loss breach, got %v", breaches)
	}

	// Further drops must not re-report the same breach.
	breaches = tr.Apply(types.AccountState{Balance: 10000, Equity: 9300}, now)
	if len(breaches) != 0 {
		t.Errorf("Expected edge-triggered breach only once, got %v", breaches)
	}

	ok, reason := tr.CanTrade()
	if ok {
		t.Error("Expected trading blocked after daily loss breach")
	}
	if reason != "daily loss limit hit" {
		t.Errorf("Unexpected block reason: %q", reason)
	}
}

func TestTrailingDrawdownFromHighWaterMark(t *testing.T) {
	tr := seededTracker(FirmApex, 10000)
	now := time.Now().UTC()

	// Equity runs up, raising the high water mark to 10500.
	if b := tr.Apply(types.AccountState{Balance: 10000, Equity: 10500}, now); len(b) != 0 {
		t.Fatalf("Expected no breach on the run up, got %v", b)
	}
	snap := tr.Snapshot()
	if snap.HighWaterMark != 10500 {
		t.Fatalf("Expected high water mark 10500, got %v", snap.HighWaterMark)
	}

	// A 700 drop from the mark exceeds the 6% trailing limit (630)
	// while staying inside the daily and total limits.
	breaches := tr.Apply(types.AccountState{Balance: 10000, Equity: 9800}, now)
	if len(breaches) != 1 || breaches[0].Kind != BreachTrailingDD {
		t.Fatalf("Expected a trailing drawdown breach, got %v", breaches)
	}

	// The trailing flag survives the daily reset.
	tr.DailyReset()
	ok, reason := tr.CanTrade()
	if ok {
		t.Error("Expected trading still blocked after daily reset")
	}
	if reason != "trailing drawdown limit hit" {
		t.Errorf("Unexpected block reason: %q", reason)
	}
}

func TestTotalDrawdownBreach(t *testing.T) {
	tr := seededTracker(FirmGeneric, 10000)
	now := time.Now().UTC()

	breaches := tr.Apply(types.AccountState{Balance: 10000, Equity: 8900}, now)

	var kinds []BreachKind
	for _, b := range breaches {
		kinds = append(kinds, b.Kind)
	}
	// An 11% drop trips both the 5% daily and the 10% total limits.
	if len(breaches) != 2 {
		t.Fatalf("Expected daily and total breaches, got %v", kinds)
	}
	if breaches[0].Kind != BreachDailyLoss || breaches[1].Kind != BreachTotalDD {
		t.Errorf("Unexpected breach kinds: %v", kinds)
	}
}

func TestDailyResetRollsBaseline(t *testing.T) {
	tr := seededTracker(FirmGetLeveraged, 10000)
	now := time.Now().UTC()

	tr.Apply(types.AccountState{Balance: 9400, Equity: 9400}, now)
	if ok, _ := tr.CanTrade(); ok {
		t.Fatal("Expected trading blocked before reset")
	}

	tr.DailyReset()
	if ok, reason := tr.CanTrade(); !ok {
		t.Errorf("Expected trading allowed after daily reset, got %q", reason)
	}

	// The baseline moved to the current balance, so the same equity is
	// no longer a daily loss.
	if b := tr.Apply(types.AccountState{Balance: 9400, Equity: 9400}, now); len(b) != 0 {
		t.Errorf("Expected no breach against the new baseline, got %v", b)
	}
	if snap := tr.Snapshot(); snap.StartingBalance != 9400 {
		t.Errorf("Expected starting balance 9400 after reset, got %v", snap.StartingBalance)
	}
}

func TestCanTradeMaxPositions(t *testing.T) {
	tr := seededTracker(FirmGeneric, 10000)
	tr.Apply(types.AccountState{Balance: 10000, Equity: 10000, OpenTrades: 3}, time.Now().UTC())

	ok, reason := tr.CanTrade()
	if ok {
		t.Error("Expected trading blocked at the position cap")
	}
	if reason != "max positions reached: 3/3" {
		t.Errorf("Unexpected block reason: %q", reason)
	}
}

func TestCanTradeDisconnected(t *testing.T) {
	tr := NewTracker("test-acc", PresetRules(FirmGeneric))
	ok, reason := tr.CanTrade()
	if ok {
		t.Error("Expected trading blocked while disconnected")
	}
	if reason != "account not connected" {
		t.Errorf("Unexpected block reason: %q", reason)
	}
}

func TestPresetRulesFallback(t *testing.T) {
	r := PresetRules(FirmType("NO_SUCH_FIRM"))
	if r.Firm != FirmGeneric {
		t.Errorf("Expected generic preset for unknown firm, got %s", r.Firm)
	}
	if apex := PresetRules(FirmApex); !apex.UseTrailingDD {
		t.Error("Expected trailing drawdown enabled for Apex")
	}
}
