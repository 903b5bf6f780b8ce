package lifecycle

import (
	"testing"
	"time"
)

func TestCooldownBlocksAfterRepeatedHits(t *testing.T) {
	c := NewCooldown()
	t0 := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	c.RecordStopLoss("EURUSD", "BUY", t0)
	if c.OnCooldown("EURUSD", t0) {
		t.Error("Expected no cooldown after a single hit")
	}

	c.RecordStopLoss("EURUSD", "BUY", t0.Add(10*time.Minute))
	if !c.OnCooldown("EURUSD", t0.Add(10*time.Minute)) {
		t.Error("Expected cooldown after two hits inside the window")
	}
	if c.OnCooldown("GBPUSD", t0.Add(10*time.Minute)) {
		t.Error("Expected other symbols unaffected")
	}
}

func TestCooldownExpires(t *testing.T) {
	c := NewCooldown()
	t0 := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	c.RecordStopLoss("EURUSD", "SELL", t0)
	c.RecordStopLoss("EURUSD", "SELL", t0.Add(10*time.Minute))
	if !c.OnCooldown("EURUSD", t0.Add(30*time.Minute)) {
		t.Fatal("Expected cooldown inside the block")
	}
	// Two hours past the last hit the block lifts.
	if c.OnCooldown("EURUSD", t0.Add(10*time.Minute+2*time.Hour+time.Minute)) {
		t.Error("Expected cooldown lifted after the block duration")
	}
}

func TestCooldownWindowResetsCount(t *testing.T) {
	c := NewCooldown()
	t0 := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	c.RecordStopLoss("EURUSD", "BUY", t0)
	// A hit five hours later starts a fresh count.
	c.RecordStopLoss("EURUSD", "BUY", t0.Add(5*time.Hour))
	if c.OnCooldown("EURUSD", t0.Add(5*time.Hour)) {
		t.Error("Expected stale hits to not count toward the block")
	}
}

func TestConsecutiveLosses(t *testing.T) {
	c := NewCooldown()
	now := time.Now().UTC()

	c.RecordStopLoss("EURUSD", "BUY", now)
	c.RecordStopLoss("GBPUSD", "SELL", now)
	if c.ConsecutiveLosses() != 2 {
		t.Errorf("Expected 2 consecutive losses, got %d", c.ConsecutiveLosses())
	}

	c.RecordWin()
	if c.ConsecutiveLosses() != 0 {
		t.Errorf("Expected streak reset after a win, got %d", c.ConsecutiveLosses())
	}
}

func TestCooldownReset(t *testing.T) {
	c := NewCooldown()
	now := time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)
	c.RecordStopLoss("EURUSD", "BUY", now)
	c.RecordStopLoss("EURUSD", "BUY", now.Add(30*time.Minute))
	if !c.OnCooldown("EURUSD", now.Add(time.Hour)) {
		t.Fatal("Expected EURUSD on cooldown")
	}

	c.Reset()
	if c.OnCooldown("EURUSD", now.Add(time.Hour)) {
		t.Error("Expected cooldown cleared after reset")
	}
	if c.ConsecutiveLosses() != 0 {
		t.Errorf("Expected streak cleared, got %d", c.ConsecutiveLosses())
	}
}
