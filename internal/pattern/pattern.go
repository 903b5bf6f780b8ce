// Package pattern implements the wedge plus liquidity-grab detector.
//
// Strategy: wedge, stop hunt, reversal, entry on the first candle
// closing back inside. The pipeline walks five phases:
//
//	1. Converging trendlines over the lookback window
//	2. Close beyond a wedge boundary
//	3. Liquidity grab with an exhaustion wick
//	4. First candle closing back inside with a momentum shift
//	5. Entry at the reversal candle close
package pattern

import (
	"sync"
	"time"

	"proptrader/internal/types"
)

type Phase string

const (
	PhaseNone              Phase = "NO_PATTERN"
	PhaseWedgeForming      Phase = "WEDGE_FORMING"
	PhaseBreakout          Phase = "BREAKOUT"
	PhaseStopHunt          Phase = "STOP_HUNT"
	PhaseReversalConfirmed Phase = "REVERSAL_CONFIRMED"
	PhaseEntryReady        Phase = "ENTRY_READY"
)

// Wedge is a detected converging pattern. Slopes and intercepts are
// in window coordinates: x counts candles from the window start.
type Wedge struct {
	StartIndex     int
	EndIndex       int
	UpperSlope     float64
	LowerSlope     float64
	UpperIntercept float64
	LowerIntercept float64
	StartPriceHigh float64
	StartPriceLow  float64
	Descending     bool
	TouchesUpper   int
	TouchesLower   int
	WidthAtStart   float64
	WidthAtEnd     float64
}

// HuntSide says which side of the wedge the liquidity grab swept.
type HuntSide string

const (
	HuntBelow HuntSide = "BELOW" // grabbed longs, reversal is a buy
	HuntAbove HuntSide = "ABOVE" // grabbed shorts, reversal is a sell
)

// StopHunt is a detected liquidity grab.
type StopHunt struct {
	CandleIndex int
	Side        HuntSide
	Extreme     float64
	Close       float64
	WickRatio   float64
	VolumeSpike bool
}

// Reversal holds the confirmation details behind an entry signal.
type Reversal struct {
	BackInside    bool
	WithTrend     bool
	RSI           float64
	RSIConfirm    bool
	BeyondHunt    bool
	MomentumShift bool
	UpperLine     float64
	LowerLine     float64
}

// Signal is the detector output for one scan.
type Signal struct {
	Symbol          string
	Phase           Phase
	Direction       types.Direction
	Confidence      float64
	EntryPrice      float64
	HuntExtreme     float64
	WedgeStartPrice float64
	Wedge           *Wedge
	StopHunt        *StopHunt
	Reversal        *Reversal
	Reason          string
	Timestamp       time.Time
}

// state is the per-key detection progress between scans.
type state struct {
	phase       Phase
	wedge       *Wedge
	hunt        *StopHunt
	breakoutIdx int
	firedTs     int64 // terminal bar of the last emitted entry signal
}

// Store holds detection state keyed by instrument. Detectors share a
// Store so that state survives across scan cycles; keys are
// independent and may be scanned concurrently.
type Store struct {
	mu     sync.Mutex
	states map[string]*state
}

func NewStore() *Store {
	return &Store{states: make(map[string]*state)}
}

func (s *Store) get(key string) *state {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok {
		st = &state{phase: PhaseNone}
		s.states[key] = st
	}
	return st
}

// markFired clears a key's progress but keeps the bar the signal
// fired on, so the same series cannot produce a second signal.
func (s *Store) markFired(key string, ts int64) {
	s.mu.Lock()
	s.states[key] = &state{phase: PhaseNone, firedTs: ts}
	s.mu.Unlock()
}

// Reset clears detection state for a key.
func (s *Store) Reset(key string) {
	s.mu.Lock()
	delete(s.states, key)
	s.mu.Unlock()
}

// Phase returns the current detection phase for a key.
func (s *Store) Phase(key string) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		return st.phase
	}
	return PhaseNone
}
