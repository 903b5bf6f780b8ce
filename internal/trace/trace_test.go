package trace

import (
	"context"
	"testing"
)

func TestOpPassthroughWhenDisabled(t *testing.T) {
	ctx := context.Background()

	got, end := Op(ctx, "gateway.Connect")
	if got != ctx {
		t.Errorf("Expected the original context back when tracing is off")
	}
	end()
}

func TestSymbolAttribute(t *testing.T) {
	kv := Symbol("EURUSD")
	if string(kv.Key) != "trader.symbol" {
		t.Errorf("Expected key trader.symbol, got %s", kv.Key)
	}
	if kv.Value.AsString() != "EURUSD" {
		t.Errorf("Expected value EURUSD, got %s", kv.Value.AsString())
	}
}
