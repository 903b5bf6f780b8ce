// Package lifecycle manages open positions after entry: breakeven
// locks, trailing stops, stale exits and the stop-loss cooldown that
// keeps the scanner away from symbols that keep getting stopped out.
package lifecycle

import (
	"fmt"
	"sync"
	"time"
)

const (
	cooldownWindow    = 4 * time.Hour // hits older than this reset the counter
	cooldownBlock     = 2 * time.Hour // block length after repeated hits
	cooldownThreshold = 2             // hits inside the window that trigger a block
)

type cooldownEntry struct {
	count int
	last  time.Time
}

// Cooldown tracks stop-loss hits per symbol and direction. Two hits
// inside a rolling four hour window block the symbol for two hours.
// It also counts global consecutive losses for anti-tilt sizing.
type Cooldown struct {
	mu                sync.Mutex
	hits              map[string]cooldownEntry
	consecutiveLosses int
}

func NewCooldown() *Cooldown {
	return &Cooldown{hits: make(map[string]cooldownEntry)}
}

func cooldownKey(symbol, direction string) string {
	return fmt.Sprintf("%s:%s", symbol, direction)
}

// RecordStopLoss registers a stop-loss hit for symbol+direction and
// bumps the consecutive loss counter.
func (c *Cooldown) RecordStopLoss(symbol, direction string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cooldownKey(symbol, direction)
	e := c.hits[key]
	if !e.last.IsZero() && now.Sub(e.last) > cooldownWindow {
		e.count = 0
	}
	e.count++
	e.last = now
	c.hits[key] = e

	c.consecutiveLosses++
}

// RecordWin resets the consecutive loss counter.
func (c *Cooldown) RecordWin() {
	c.mu.Lock()
	c.consecutiveLosses = 0
	c.mu.Unlock()
}

// Reset clears all hit windows and the loss streak. The scheduler
// calls it at the start of a new trading week.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = make(map[string]cooldownEntry)
	c.consecutiveLosses = 0
}

// ConsecutiveLosses returns the current global loss streak.
func (c *Cooldown) ConsecutiveLosses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveLosses
}

// OnCooldown reports whether a symbol is blocked in any direction.
// Fully expired entries are pruned as a side effect.
func (c *Cooldown) OnCooldown(symbol string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := symbol + ":"
	blocked := false
	for key, e := range c.hits {
		if !e.last.IsZero() && now.Sub(e.last) > cooldownWindow {
			delete(c.hits, key)
			continue
		}
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if e.count < cooldownThreshold || e.last.IsZero() {
			continue
		}
		if now.Sub(e.last) < cooldownBlock {
			blocked = true
		}
	}
	return blocked
}
