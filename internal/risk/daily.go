package risk

import "sync"

// DailyTracker accumulates realized P&L and trade count for one
// account and trips once the day's closed losses reach the limit.
// It runs off closed trades, independently of the equity-based
// drawdown tracker, so a burst of losers trips it without waiting
// for the next equity poll.
type DailyTracker struct {
	mu        sync.Mutex
	lossLimit float64
	pnl       float64
	trades    int
	tripped   bool
}

// NewDailyTracker builds a tracker with the given daily loss limit in
// account currency. A zero or negative limit disables the breaker.
func NewDailyTracker(lossLimit float64) *DailyTracker {
	return &DailyTracker{lossLimit: lossLimit}
}

// Record adds one closed trade's P&L and reports whether this update
// tripped the breaker.
func (d *DailyTracker) Record(pnl float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pnl += pnl
	d.trades++
	if !d.tripped && d.lossLimit > 0 && -d.pnl >= d.lossLimit {
		d.tripped = true
		return true
	}
	return false
}

// CanTrade reports whether the breaker allows new entries. The flag
// is monotonic until Reset.
func (d *DailyTracker) CanTrade() (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tripped {
		return false, "daily loss limit hit"
	}
	return true, ""
}

// Snapshot returns the accumulated P&L, trade count and breaker state.
func (d *DailyTracker) Snapshot() (pnl float64, trades int, tripped bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pnl, d.trades, d.tripped
}

// Reset clears the day's accumulation at the day boundary.
func (d *DailyTracker) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pnl = 0
	d.trades = 0
	d.tripped = false
}
