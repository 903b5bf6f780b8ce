package eod

import (
	"encoding/csv"
	"os"
	"testing"
	"time"

	"proptrader/internal/types"
)

func TestWriteDaily(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	trades := []types.ClosedTrade{
		{
			Ticket: 2, Symbol: "EURUSD", Direction: types.Buy, Volume: 0.05,
			OpenPrice: 1.1000, ClosePrice: 1.1050, Profit: 250,
			CloseReason: "take profit", ClosedAt: day.Add(15 * time.Hour),
		},
		{
			Ticket: 1, Symbol: "GBPUSD", Direction: types.Sell, Volume: 0.05,
			OpenPrice: 1.2500, ClosePrice: 1.2520, Profit: -100,
			CloseReason: "stop loss", ClosedAt: day.Add(10 * time.Hour),
		},
		// Previous day, must be filtered out.
		{
			Ticket: 0, Symbol: "EURUSD", Direction: types.Buy, Volume: 0.05,
			Profit: 50, CloseReason: "manual", ClosedAt: day.Add(-2 * time.Hour),
		},
	}

	path, err := WriteDaily("alpha", day, trades)
	if err != nil {
		t.Fatalf("WriteDaily: %v", err)
	}
	if path == "" {
		t.Fatal("Expected a report path")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Opening report: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Reading report: %v", err)
	}

	// Header, two trades sorted by close time, total row.
	if len(records) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(records))
	}
	if records[0][0] != "closed_at" || records[0][7] != "close_reason" {
		t.Errorf("Unexpected header: %v", records[0])
	}
	if records[1][1] != "GBPUSD" || records[2][1] != "EURUSD" {
		t.Errorf("Expected rows sorted by close time, got %v / %v", records[1], records[2])
	}
	if records[3][0] != "TOTAL" || records[3][6] != "150.00" || records[3][7] != "2 trades, 1 wins" {
		t.Errorf("Unexpected total row: %v", records[3])
	}
}

func TestWriteDailyNoTrades(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	path, err := WriteDaily("alpha", day, nil)
	if err != nil {
		t.Fatalf("WriteDaily: %v", err)
	}
	if path != "" {
		t.Errorf("Expected no file for an empty day, got %q", path)
	}
}
