package news

import (
	"testing"
	"time"

	"proptrader/internal/types"
)

func TestHighImpactWithin(t *testing.T) {
	s := NewService(DefaultServiceConfig())
	eventTime := time.Date(2026, 1, 5, 13, 30, 0, 0, time.UTC)
	s.SetEvents([]types.NewsEvent{
		{Currency: "USD", Title: "Non-Farm Payrolls", Impact: "HIGH", Time: eventTime},
	})

	// Three minutes before the release, inside a five minute window.
	hit, desc := s.HighImpactWithin("USD", 5*time.Minute, eventTime.Add(-3*time.Minute))
	if !hit {
		t.Fatal("Expected lockout inside the window")
	}
	if desc != "USD HIGH event at 13:30 UTC" {
		t.Errorf("Unexpected description: %q", desc)
	}

	// Three minutes after the release still counts.
	if hit, _ := s.HighImpactWithin("USD", 5*time.Minute, eventTime.Add(3*time.Minute)); !hit {
		t.Error("Expected lockout just after the release")
	}

	// Ten minutes out is clear.
	if hit, _ := s.HighImpactWithin("USD", 5*time.Minute, eventTime.Add(10*time.Minute)); hit {
		t.Error("Expected no lockout outside the window")
	}

	// Other currencies are unaffected.
	if hit, _ := s.HighImpactWithin("EUR", 5*time.Minute, eventTime); hit {
		t.Error("Expected no lockout for an unrelated currency")
	}
}

func TestHighImpactWithinSkipsUntimedEvents(t *testing.T) {
	s := NewService(DefaultServiceConfig())
	s.SetEvents([]types.NewsEvent{
		{Currency: "USD", Title: "Bank Holiday", Impact: "HIGH"},
	})
	if hit, _ := s.HighImpactWithin("USD", time.Hour, time.Now().UTC()); hit {
		t.Error("Expected all-day events without a time to be ignored")
	}
}

func TestEventsReturnsCopy(t *testing.T) {
	s := NewService(DefaultServiceConfig())
	s.SetEvents([]types.NewsEvent{{Currency: "USD", Impact: "HIGH", Time: time.Now()}})

	events := s.Events()
	events[0].Currency = "XXX"
	if s.Events()[0].Currency != "USD" {
		t.Error("Expected Events to return a copy")
	}
}

func TestParseEventTime(t *testing.T) {
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	got := parseEventTime(day, "8:30am")
	want := time.Date(2026, 1, 5, 8, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	got = parseEventTime(day, "2:00pm")
	if got.Hour() != 14 {
		t.Errorf("Expected 14:00, got %v", got)
	}

	for _, raw := range []string{"", "All Day", "Tentative", "garbage"} {
		if !parseEventTime(day, raw).IsZero() {
			t.Errorf("Expected zero time for %q", raw)
		}
	}
}
