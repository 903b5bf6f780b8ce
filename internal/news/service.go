package news

import (
	"context"
	"fmt"
	"sync"
	"time"

	"proptrader/internal/logger"
	"proptrader/internal/types"
)

// ServiceConfig configures the calendar service.
type ServiceConfig struct {
	CalendarURL     string
	RefreshInterval time.Duration
	ScraperTimeout  time.Duration
	Enabled         bool
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		RefreshInterval: 4 * time.Hour,
		ScraperTimeout:  30 * time.Second,
		Enabled:         true,
	}
}

// Service caches the day's high-impact events and serves lockout
// queries. A failed refresh keeps the previous events rather than
// dropping to an empty calendar.
type Service struct {
	scraper *Scraper
	cfg     ServiceConfig

	mu          sync.RWMutex
	events      []types.NewsEvent
	lastRefresh time.Time
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		scraper: NewScraper(cfg.CalendarURL, cfg.ScraperTimeout),
		cfg:     cfg,
	}
}

// Refresh scrapes today's calendar and swaps in the new events.
func (s *Service) Refresh(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	now := time.Now().UTC()
	events, err := s.scraper.Scrape(ctx, now)
	if err != nil {
		logger.ErrorWithErr(ctx, "Calendar refresh failed, keeping previous events", err,
			"cached_events", len(s.Events()))
		return err
	}

	s.mu.Lock()
	s.events = events
	s.lastRefresh = now
	s.mu.Unlock()
	return nil
}

// Run refreshes the calendar on an interval until the context ends.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	_ = s.Refresh(ctx)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Refresh(ctx)
		}
	}
}

// SetEvents replaces the cached events. Used by tests and by callers
// with their own calendar source.
func (s *Service) SetEvents(events []types.NewsEvent) {
	s.mu.Lock()
	s.events = events
	s.mu.Unlock()
}

// Events returns a copy of the cached events.
func (s *Service) Events() []types.NewsEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.NewsEvent, len(s.events))
	copy(out, s.events)
	return out
}

// HighImpactWithin reports whether a high-impact event for the
// currency falls inside the window around now, and describes it.
func (s *Service) HighImpactWithin(currency string, window time.Duration, now time.Time) (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.events {
		if e.Currency != currency || e.Time.IsZero() {
			continue
		}
		delta := now.Sub(e.Time)
		if delta < 0 {
			delta = -delta
		}
		if delta < window {
			return true, fmt.Sprintf("%s %s event at %s UTC", e.Currency, e.Impact, e.Time.Format("15:04"))
		}
	}
	return false, ""
}
