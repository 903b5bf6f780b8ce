// Package eod writes end-of-day CSV summaries of closed trades, one file
// per account per day, under <log dir>/eod/.
package eod

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"proptrader/internal/types"
)

func logDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func csvPath(accountID string, t time.Time) string {
	return filepath.Join(logDir(), "eod", fmt.Sprintf("%s-%s.csv", accountID, t.Format("2006-01-02")))
}

// WriteDaily writes the account's closed trades for the given UTC day and
// returns the CSV path. Trades outside the day are skipped; no file is
// written when nothing closed, and the empty path signals that.
func WriteDaily(accountID string, day time.Time, trades []types.ClosedTrade) (string, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var rows []types.ClosedTrade
	for _, tr := range trades {
		if tr.ClosedAt.Before(dayStart) || !tr.ClosedAt.Before(dayEnd) {
			continue
		}
		rows = append(rows, tr)
	}
	if len(rows) == 0 {
		return "", nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ClosedAt.Before(rows[j].ClosedAt) })

	outPath := csvPath(accountID, dayStart)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	defer w.Flush()

	headers := []string{"closed_at", "symbol", "direction", "lots", "open_price", "close_price", "profit", "close_reason"}
	if err := w.Write(headers); err != nil {
		return "", err
	}

	var totalPnL float64
	wins := 0
	for _, tr := range rows {
		rec := []string{
			tr.ClosedAt.UTC().Format("2006-01-02 15:04:05"),
			tr.Symbol,
			string(tr.Direction),
			fmt.Sprintf("%.2f", tr.Volume),
			fmt.Sprintf("%.5f", tr.OpenPrice),
			fmt.Sprintf("%.5f", tr.ClosePrice),
			fmt.Sprintf("%.2f", tr.Profit),
			tr.CloseReason,
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		totalPnL += tr.Profit
		if tr.Profit > 0 {
			wins++
		}
	}

	summary := fmt.Sprintf("%d trades, %d wins", len(rows), wins)
	if err := w.Write([]string{"TOTAL", "", "", "", "", "", fmt.Sprintf("%.2f", totalPnL), summary}); err != nil {
		return "", err
	}
	return outPath, nil
}
