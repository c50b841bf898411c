package ports

import (
	"context"
	"time"

	"fvgbot/internal/domain"
)

// OpenOrder describes an order the broker currently lists as open/pending.
type OpenOrder struct {
	Ticket int64
	Symbol string
	Side   domain.OrderSide
	Price  float64
	Volume float64
}

// Execution describes a fill found in the broker's trade history.
type Execution struct {
	Ticket     int64
	Symbol     string
	Price      float64
	Volume     float64
	ExecutedAt time.Time
}

// BrokerGateway defines the interface for the external trading venue.
// All calls may block and must honour the context deadline.
type BrokerGateway interface {
	// SubmitLimitOrder places a limit order derived from the intent and
	// returns the broker-assigned ticket.
	SubmitLimitOrder(ctx context.Context, intent domain.OrderIntent) (ticket int64, err error)

	// OpenOrders lists the orders the broker still considers open or
	// pending for the symbol.
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)

	// TradeHistory returns executions for the symbol since the given time.
	TradeHistory(ctx context.Context, symbol string, since time.Time) ([]Execution, error)

	// CancelOrder cancels an open order by ticket.
	CancelOrder(ctx context.Context, symbol string, ticket int64) error
}
