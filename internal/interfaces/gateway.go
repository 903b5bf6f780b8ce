package interfaces

import (
	"context"
	"time"

	"proptrader/internal/types"
)

// Gateway is the uniform execution contract the core depends on, one
// implementation per trading venue. Every call may fail and must honor the
// context deadline; a timeout is a transient failure, not a crash.
type Gateway interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	AccountState(ctx context.Context) (types.AccountState, error)

	// Candles returns up to n bars for the symbol, oldest first.
	Candles(ctx context.Context, symbol, timeframe string, n int) ([]types.Candle, error)
	CurrentPrice(ctx context.Context, symbol string) (types.Quote, error)

	ExecuteMarketOrder(ctx context.Context, req types.OrderRequest) (string, error)
	// ExecuteLimitOrder is only required when SupportsLimitOrders reports true.
	ExecuteLimitOrder(ctx context.Context, req types.OrderRequest) (string, error)
	// SupportsLimitOrders declares the capability explicitly; callers fall
	// back to market entries when it is false instead of trying and failing.
	SupportsLimitOrders() bool

	ModifyTrade(ctx context.Context, id string, stopLoss, takeProfit float64) error
	CloseTrade(ctx context.Context, id string) error
	// CloseAllTrades closes every open position, optionally filtered by
	// symbol (empty string = all). Returns the number closed.
	CloseAllTrades(ctx context.Context, symbolFilter string) (int, error)

	OpenPositions(ctx context.Context) ([]types.Position, error)
	// TradeHistory is best-effort; gateways without history support return an
	// empty slice and no error.
	TradeHistory(ctx context.Context, days int) ([]types.ClosedTrade, error)
}

// NewsProvider answers the single question the risk engine asks of the
// economic calendar.
type NewsProvider interface {
	// HighImpactWithin reports whether a high-impact event for the currency is
	// scheduled within +/- window of now, and describes it if so.
	HighImpactWithin(currency string, window time.Duration, now time.Time) (bool, string)
}
