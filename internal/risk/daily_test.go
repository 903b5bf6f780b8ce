package risk

import "testing"

func TestDailyTrackerTrips(t *testing.T) {
	dt := NewDailyTracker(500)

	if tripped := dt.Record(-300); tripped {
		t.Error("Expected no trip at -300")
	}
	if ok, _ := dt.CanTrade(); !ok {
		t.Error("Expected trading allowed before the limit")
	}

	if tripped := dt.Record(-250); !tripped {
		t.Error("Expected the -550 cumulative loss to trip the breaker")
	}
	ok, reason := dt.CanTrade()
	if ok {
		t.Error("Expected trading blocked after the trip")
	}
	if reason != "daily loss limit hit" {
		t.Errorf("Unexpected reason: %q", reason)
	}

	// Winners do not untrip it.
	if tripped := dt.Record(600); tripped {
		t.Error("Expected Record to report the trip edge only once")
	}
	if ok, _ := dt.CanTrade(); ok {
		t.Error("Expected the flag to hold until reset")
	}

	pnl, trades, tripped := dt.Snapshot()
	if pnl != 50 || trades != 3 || !tripped {
		t.Errorf("Expected pnl 50, 3 trades, tripped, got %v/%d/%v", pnl, trades, tripped)
	}
}

func TestDailyTrackerReset(t *testing.T) {
	dt := NewDailyTracker(100)
	dt.Record(-150)
	if ok, _ := dt.CanTrade(); ok {
		t.Fatal("Expected tripped tracker")
	}

	dt.Reset()
	if ok, _ := dt.CanTrade(); !ok {
		t.Error("Expected trading allowed after reset")
	}
	pnl, trades, tripped := dt.Snapshot()
	if pnl != 0 || trades != 0 || tripped {
		t.Errorf("Expected clean state after reset, got %v/%d/%v", pnl, trades, tripped)
	}
}

func TestDailyTrackerDisabled(t *testing.T) {
	dt := NewDailyTracker(0)
	if tripped := dt.Record(-10000); tripped {
		t.Error("Expected a zero limit to disable the breaker")
	}
	if ok, _ := dt.CanTrade(); !ok {
		t.Error("Expected trading always allowed with no limit")
	}
}
