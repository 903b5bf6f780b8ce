package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readEntries(t *testing.T, dir string) []Entry {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatalf("Opening journal: %v", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Bad journal line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestJournalAppend(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer j.Close()

	if err := j.Signal("alpha", "EURUSD", "BUY", "ENTRY_READY", 78.5, 1.1000); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if err := j.Order("alpha", "EURUSD", "BUY", "sim-1", 0.05, 1.1000, 1.0982, 1.1100); err != nil {
		t.Fatalf("Order: %v", err)
	}
	if err := j.Rejection("alpha", "EURUSD", "BUY", "daily loss limit hit"); err != nil {
		t.Fatalf("Rejection: %v", err)
	}
	if err := j.BreachEvent("alpha", "DAILY_LOSS_LIMIT", -520.0, -500.0); err != nil {
		t.Fatalf("BreachEvent: %v", err)
	}

	entries := readEntries(t, dir)
	if len(entries) != 4 {
		t.Fatalf("Expected 4 entries, got %d", len(entries))
	}

	if entries[0].Kind != KindSignal || entries[0].Phase != "ENTRY_READY" || entries[0].Confidence != 78.5 {
		t.Errorf("Unexpected signal entry: %+v", entries[0])
	}
	if entries[1].Kind != KindOrder || entries[1].OrderID != "sim-1" || entries[1].Lots != 0.05 {
		t.Errorf("Unexpected order entry: %+v", entries[1])
	}
	if entries[2].Kind != KindRejection || entries[2].Reason != "daily loss limit hit" {
		t.Errorf("Unexpected rejection entry: %+v", entries[2])
	}
	if entries[3].Kind != KindBreach || entries[3].Extra["limit"] != -500.0 {
		t.Errorf("Unexpected breach entry: %+v", entries[3])
	}
	for _, e := range entries {
		if e.Time == "" {
			t.Error("Expected every entry stamped with a time")
		}
	}
}
