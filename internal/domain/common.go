package domain

import "time"

// Timeframe identifies a chart timeframe (candle interval).
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

// Duration returns the candle interval length for the timeframe.
// Unknown timeframes return 0.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	case TF1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// StreamKey identifies a single candle stream. It replaces ad-hoc
// "SYMBOL_TIMEFRAME" string keys with a comparable composite key.
type StreamKey struct {
	Symbol    string
	Timeframe Timeframe
}

// GapKind is the direction of a fair value gap.
type GapKind string

const (
	Bullish GapKind = "bullish"
	Bearish GapKind = "bearish"
)

// GapStatus is the lifecycle status of a gap. Active is the only status in
// which a gap participates in confluence and order parameterization.
type GapStatus string

const (
	GapActive  GapStatus = "active"
	GapFilled  GapStatus = "filled"
	GapExpired GapStatus = "expired"
)

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderState is the lifecycle state of a live order. Pending is the only
// non-terminal state; Unknown marks an order whose true state could not be
// determined and requires operator attention.
type OrderState string

const (
	OrderPending   OrderState = "pending"
	OrderFilled    OrderState = "filled"
	OrderExpired   OrderState = "expired"
	OrderCancelled OrderState = "cancelled"
	OrderRejected  OrderState = "rejected"
	OrderUnknown   OrderState = "unknown"
)

// IsTerminal reports whether the state is a sink: no further transitions
// are permitted out of it. Unknown is not terminal since a later
// successful poll may still resolve the order.
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderExpired, OrderCancelled, OrderRejected:
		return true
	default:
		return false
	}
}
