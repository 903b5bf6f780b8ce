package gatewayobs

import (
	"context"

	"proptrader/internal/interfaces"
	"proptrader/internal/logger"
	"proptrader/internal/trace"
	"proptrader/internal/types"
)

// observableGateway wraps a Gateway with observability (logging & tracing)
type observableGateway struct {
	gw interfaces.Gateway
}

// Compile-time interface check
var _ interfaces.Gateway = (*observableGateway)(nil)

// Wrap wraps a gateway with observability middleware
func Wrap(gw interfaces.Gateway) interfaces.Gateway {
	return &observableGateway{gw: gw}
}

func (og *observableGateway) Connect(ctx context.Context) error {
	ctx, end := trace.Op(ctx, "gateway.Connect")
	defer end()

	logger.InfoSkip(ctx, 1, "Connecting gateway")

	if err := og.gw.Connect(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Gateway connect failed", err)
		return err
	}

	logger.InfoSkip(ctx, 1, "Gateway connected")
	return nil
}

func (og *observableGateway) Disconnect(ctx context.Context) error {
	ctx, end := trace.Op(ctx, "gateway.Disconnect")
	defer end()

	if err := og.gw.Disconnect(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Gateway disconnect failed", err)
		return err
	}

	logger.InfoSkip(ctx, 1, "Gateway disconnected")
	return nil
}

func (og *observableGateway) IsConnected() bool {
	return og.gw.IsConnected()
}

func (og *observableGateway) AccountState(ctx context.Context) (types.AccountState, error) {
	ctx, end := trace.Op(ctx, "gateway.AccountState")
	defer end()

	state, err := og.gw.AccountState(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch account state", err)
		return types.AccountState{}, err
	}

	logger.DebugSkip(ctx, 1, "Account state fetched",
		"balance", state.Balance,
		"equity", state.Equity,
		"open_trades", state.OpenTrades,
	)
	return state, nil
}

func (og *observableGateway) Candles(ctx context.Context, symbol, timeframe string, n int) ([]types.Candle, error) {
	ctx, end := trace.Op(ctx, "gateway.Candles", trace.Symbol(symbol))
	defer end()

	logger.DebugSkip(ctx, 1, "Fetching candles", "symbol", symbol, "timeframe", timeframe, "count", n)

	candles, err := og.gw.Candles(ctx, symbol, timeframe, n)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch candles", err, "symbol", symbol, "count", n)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Candles fetched successfully", "symbol", symbol, "count", len(candles))
	return candles, nil
}

func (og *observableGateway) CurrentPrice(ctx context.Context, symbol string) (types.Quote, error) {
	ctx, end := trace.Op(ctx, "gateway.CurrentPrice", trace.Symbol(symbol))
	defer end()

	quote, err := og.gw.CurrentPrice(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch price", err, "symbol", symbol)
		return types.Quote{}, err
	}

	logger.DebugSkip(ctx, 1, "Price fetched", "symbol", symbol, "bid", quote.Bid, "ask", quote.Ask)
	return quote, nil
}

func (og *observableGateway) ExecuteMarketOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	ctx, end := trace.Op(ctx, "gateway.ExecuteMarketOrder", trace.Symbol(req.Symbol))
	defer end()

	logger.InfoSkip(ctx, 1, "Placing market order",
		"symbol", req.Symbol,
		"direction", req.Direction,
		"volume", req.Volume,
		"sl", req.StopLoss,
		"tp", req.TakeProfit,
		"tag", req.Tag,
	)

	id, err := og.gw.ExecuteMarketOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place market order", err,
			"symbol", req.Symbol,
			"direction", req.Direction,
			"volume", req.Volume,
		)
		return "", err
	}

	logger.InfoSkip(ctx, 1, "Market order placed successfully",
		"symbol", req.Symbol,
		"order_id", id,
	)
	return id, nil
}

func (og *observableGateway) ExecuteLimitOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	ctx, end := trace.Op(ctx, "gateway.ExecuteLimitOrder", trace.Symbol(req.Symbol))
	defer end()

	logger.InfoSkip(ctx, 1, "Placing limit order",
		"symbol", req.Symbol,
		"direction", req.Direction,
		"volume", req.Volume,
		"price", req.LimitPrice,
		"sl", req.StopLoss,
		"tp", req.TakeProfit,
	)

	id, err := og.gw.ExecuteLimitOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place limit order", err,
			"symbol", req.Symbol,
			"direction", req.Direction,
			"volume", req.Volume,
		)
		return "", err
	}

	logger.InfoSkip(ctx, 1, "Limit order placed successfully",
		"symbol", req.Symbol,
		"order_id", id,
	)
	return id, nil
}

func (og *observableGateway) SupportsLimitOrders() bool {
	return og.gw.SupportsLimitOrders()
}

func (og *observableGateway) ModifyTrade(ctx context.Context, id string, stopLoss, takeProfit float64) error {
	ctx, end := trace.Op(ctx, "gateway.ModifyTrade")
	defer end()

	if err := og.gw.ModifyTrade(ctx, id, stopLoss, takeProfit); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to modify trade", err,
			"trade_id", id,
			"sl", stopLoss,
			"tp", takeProfit,
		)
		return err
	}

	logger.InfoSkip(ctx, 1, "Trade modified", "trade_id", id, "sl", stopLoss, "tp", takeProfit)
	return nil
}

func (og *observableGateway) CloseTrade(ctx context.Context, id string) error {
	ctx, end := trace.Op(ctx, "gateway.CloseTrade")
	defer end()

	if err := og.gw.CloseTrade(ctx, id); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to close trade", err, "trade_id", id)
		return err
	}

	logger.InfoSkip(ctx, 1, "Trade closed", "trade_id", id)
	return nil
}

func (og *observableGateway) CloseAllTrades(ctx context.Context, symbolFilter string) (int, error) {
	ctx, end := trace.Op(ctx, "gateway.CloseAllTrades")
	defer end()

	logger.InfoSkip(ctx, 1, "Closing all trades", "symbol_filter", symbolFilter)

	closed, err := og.gw.CloseAllTrades(ctx, symbolFilter)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to close all trades", err, "symbol_filter", symbolFilter)
		return closed, err
	}

	logger.InfoSkip(ctx, 1, "All trades closed", "count", closed)
	return closed, nil
}

func (og *observableGateway) OpenPositions(ctx context.Context) ([]types.Position, error) {
	ctx, end := trace.Op(ctx, "gateway.OpenPositions")
	defer end()

	positions, err := og.gw.OpenPositions(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch open positions", err)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Open positions fetched", "count", len(positions))
	return positions, nil
}

func (og *observableGateway) TradeHistory(ctx context.Context, days int) ([]types.ClosedTrade, error) {
	ctx, end := trace.Op(ctx, "gateway.TradeHistory")
	defer end()

	trades, err := og.gw.TradeHistory(ctx, days)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch trade history", err, "days", days)
		return nil, err
	}

	logger.DebugSkip(ctx, 1, "Trade history fetched", "count", len(trades))
	return trades, nil
}
