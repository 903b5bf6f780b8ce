// Package news tracks high-impact economic calendar events and
// answers the one question risk cares about: is there a catalyst
// near this currency right now?
package news

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"proptrader/internal/logger"
	"proptrader/internal/types"
)

const defaultCalendarURL = "https://www.forexfactory.com/calendar"

// Scraper pulls the high-impact rows from a ForexFactory-style
// calendar page. Forecast, actual and previous figures are ignored:
// only currency, time and title matter for lockout timing.
type Scraper struct {
	baseURL string
	timeout time.Duration
}

func NewScraper(baseURL string, timeout time.Duration) *Scraper {
	if baseURL == "" {
		baseURL = defaultCalendarURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scraper{baseURL: baseURL, timeout: timeout}
}

// Scrape fetches high-impact events for one calendar day.
func (s *Scraper) Scrape(ctx context.Context, day time.Time) ([]types.NewsEvent, error) {
	day = day.UTC()
	url := fmt.Sprintf("%s?day=%s", s.baseURL, strings.ToLower(day.Format("Jan02.2006")))

	var events []types.NewsEvent
	currentTime := ""

	c := colly.NewCollector(colly.MaxDepth(1))
	c.SetRequestTimeout(s.timeout)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		// The timezone cookie pins displayed times to UTC.
		r.Headers.Set("Cookie", "fftimezoneoffset=0")
	})

	c.OnHTML("tr.calendar__row", func(e *colly.HTMLElement) {
		row := e.DOM

		impact := row.Find("td.calendar__impact span")
		if impact.Length() == 0 {
			return
		}
		class, _ := impact.Attr("class")
		class = strings.ToLower(class)
		if !strings.Contains(class, "red") && !strings.Contains(class, "high") {
			return
		}

		currency := text(row, "td.calendar__currency")
		if currency == "" {
			return
		}

		// Some rows inherit the time of the previous row.
		if t := text(row, "td.calendar__time"); t != "" {
			currentTime = t
		}

		title := text(row, "td.calendar__event span")
		if title == "" {
			title = "Unknown Event"
		}

		events = append(events, types.NewsEvent{
			Currency: strings.ToUpper(currency),
			Title:    title,
			Impact:   "HIGH",
			Time:     parseEventTime(day, currentTime),
		})
	})

	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		visitErr = err
	})

	if err := c.Visit(url); err != nil {
		return nil, fmt.Errorf("calendar fetch: %w", err)
	}
	c.Wait()
	if visitErr != nil {
		return nil, fmt.Errorf("calendar fetch: %w", visitErr)
	}

	logger.Info(ctx, "Calendar scrape complete",
		"date", day.Format("2006-01-02"), "high_impact_events", len(events))
	return events, nil
}

func text(sel *goquery.Selection, query string) string {
	return strings.TrimSpace(sel.Find(query).First().Text())
}

// parseEventTime resolves a calendar time like "8:30am" against the
// target day. "All Day" and friends come back as the zero time,
// which the lockout check ignores.
func parseEventTime(day time.Time, raw string) time.Time {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "all day" || raw == "tentative" {
		return time.Time{}
	}
	t, err := time.Parse("3:04pm", raw)
	if err != nil {
		return time.Time{}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
}
