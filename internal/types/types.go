package types

import "time"

// Direction of a trade or signal.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Opposite returns the reversal direction.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// Candle is a single OHLCV bar. Ts is the bar open time in unix seconds.
type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

// Range returns high minus low.
func (c Candle) Range() float64 { return c.High - c.Low }

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// UpperWick is the distance from the body top to the high.
func (c Candle) UpperWick() float64 {
	top := c.Open
	if c.Close > top {
		top = c.Close
	}
	return c.High - top
}

// LowerWick is the distance from the body bottom to the low.
func (c Candle) LowerWick() float64 {
	bot := c.Open
	if c.Close < bot {
		bot = c.Close
	}
	return bot - c.Low
}

// Quote is a live two-sided price. Spread is in pips/points.
type Quote struct {
	Bid, Ask, Spread float64
}

// Mid returns the quote midpoint.
func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// AccountState is a point-in-time snapshot from an execution gateway.
type AccountState struct {
	Balance     float64
	Equity      float64
	Margin      float64
	FreeMargin  float64
	MarginLevel float64
	OpenTrades  int
}

// Position is an open order being supervised by the lifecycle manager.
type Position struct {
	ID         string
	Ticket     int64
	Symbol     string
	Direction  Direction
	Volume     float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
	Profit     float64
	OpenedAt   time.Time
}

// ClosedTrade is a best-effort record from gateway trade history.
type ClosedTrade struct {
	Ticket      int64
	Symbol      string
	Direction   Direction
	Volume      float64
	OpenPrice   float64
	ClosePrice  float64
	Profit      float64
	CloseReason string
	ClosedAt    time.Time
}

// OrderType selects how an entry is placed at the gateway.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderRequest is a fully specified entry order.
type OrderRequest struct {
	Symbol     string
	Direction  Direction
	Type       OrderType
	Volume     float64
	LimitPrice float64 // only for OrderLimit
	StopLoss   float64
	TakeProfit float64
	Tag        string
}

// NewsEvent is a scheduled economic-calendar release.
type NewsEvent struct {
	Currency string
	Title    string
	Impact   string
	Time     time.Time
}
