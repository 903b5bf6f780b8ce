// Package journal is the append-only audit trail: every signal,
// verdict, order and breach lands here as one JSON line. Files rotate
// and compress via lumberjack so the trail survives long runs.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Kind string

const (
	KindSignal     Kind = "SIGNAL"
	KindOrder      Kind = "ORDER"
	KindRejection  Kind = "REJECTION"
	KindBreach     Kind = "BREACH"
	KindManagement Kind = "MANAGEMENT"
)

// Entry is one audit line.
type Entry struct {
	Time       string         `json:"time"`
	Kind       Kind           `json:"kind"`
	Account    string         `json:"account,omitempty"`
	Symbol     string         `json:"symbol,omitempty"`
	Direction  string         `json:"direction,omitempty"`
	Phase      string         `json:"phase,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	OrderID    string         `json:"order_id,omitempty"`
	Lots       float64        `json:"lots,omitempty"`
	Price      float64        `json:"price,omitempty"`
	StopLoss   float64        `json:"sl,omitempty"`
	TakeProfit float64        `json:"tp,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Journal writes audit entries to a rotating file.
type Journal struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

func logDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

// New opens a journal under dir (TRADER_LOG_DIR or "logs" when
// empty). Rotation keeps 14 compressed files of up to 50MB.
func New(dir string) (*Journal, error) {
	if dir == "" {
		dir = logDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	return &Journal{
		out: &lumberjack.Logger{
			Filename:   filepath.Join(dir, "audit.jsonl"),
			MaxSize:    50, // megabytes
			MaxBackups: 14,
			MaxAge:     30, // days
			Compress:   true,
		},
	}, nil
}

// Append writes one entry, stamping it with the current UTC time.
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e.Time = time.Now().UTC().Format("2006-01-02 15:04:05")
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(j.out, string(b))
	return err
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.out.Close()
}

// Signal records a detector signal worth keeping.
func (j *Journal) Signal(account, symbol, direction, phase string, confidence, entry float64) error {
	return j.Append(Entry{
		Kind: KindSignal, Account: account, Symbol: symbol,
		Direction: direction, Phase: phase, Confidence: confidence, Price: entry,
	})
}

// Order records an executed order.
func (j *Journal) Order(account, symbol, direction, orderID string, lots, price, sl, tp float64) error {
	return j.Append(Entry{
		Kind: KindOrder, Account: account, Symbol: symbol, Direction: direction,
		OrderID: orderID, Lots: lots, Price: price, StopLoss: sl, TakeProfit: tp,
	})
}

// Rejection records a risk block with its reason.
func (j *Journal) Rejection(account, symbol, direction, reason string) error {
	return j.Append(Entry{
		Kind: KindRejection, Account: account, Symbol: symbol,
		Direction: direction, Reason: reason,
	})
}

// BreachEvent records a drawdown limit crossing.
func (j *Journal) BreachEvent(account, kind string, value, limit float64) error {
	return j.Append(Entry{
		Kind: KindBreach, Account: account, Reason: kind,
		Extra: map[string]any{"value": value, "limit": limit},
	})
}

// Management records a lifecycle action on an open position.
func (j *Journal) Management(account, symbol, action, positionID string, newSL float64) error {
	return j.Append(Entry{
		Kind: KindManagement, Account: account, Symbol: symbol,
		Reason: action, OrderID: positionID, StopLoss: newSL,
	})
}
