package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrTerminalState marks an attempted transition out of a terminal order
// state. This is a consistency violation: the order must be frozen and
// flagged for manual review, never silently corrected.
var ErrTerminalState = errors.New("order is in a terminal state")

// OrderIntent is a fully parameterized limit order derived from a scored
// gap. It is immutable once created and consumed exactly once: either
// submitted to the broker or discarded on rejection.
type OrderIntent struct {
	ID         string
	GapID      string
	Symbol     string
	Side       OrderSide
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Volume     float64
	Expiry     time.Time
	RiskReward float64
	Confidence float64 // Normalized quality score in [0,1]
	CreatedAt  time.Time
}

// LiveOrder tracks an intent after submission until it reaches a terminal
// state and is archived. The lifecycle monitor is its sole writer.
type LiveOrder struct {
	Intent      OrderIntent
	Ticket      int64 // Broker-assigned order identifier
	State       OrderState
	SubmittedAt time.Time
	ResolvedAt  *time.Time // Set on the terminal transition
	FillPrice   *float64   // Set when the order filled

	// Frozen marks an order that hit a consistency violation. A frozen
	// order takes no further transitions and requires manual review.
	Frozen bool
}

// Transition applies a state change, enforcing monotonicity: terminal
// states are sinks, frozen orders take no transitions, and an order can
// only return to Pending from Unknown (a recovered poll).
func (o *LiveOrder) Transition(to OrderState, at time.Time) error {
	if o.Frozen {
		return fmt.Errorf("%w: order %d is frozen", ErrTerminalState, o.Ticket)
	}
	if o.State.IsTerminal() {
		return fmt.Errorf("%w: order %d cannot move %s -> %s", ErrTerminalState, o.Ticket, o.State, to)
	}
	if to == OrderPending && o.State != OrderUnknown {
		return fmt.Errorf("%w: order %d cannot re-enter pending from %s", ErrTerminalState, o.Ticket, o.State)
	}
	o.State = to
	if to.IsTerminal() {
		o.ResolvedAt = &at
	}
	return nil
}

// Freeze marks the order for manual review after a consistency violation.
func (o *LiveOrder) Freeze() {
	o.Frozen = true
}

// TimeToFill returns the duration between submission and resolution, or 0
// if the order is unresolved.
func (o *LiveOrder) TimeToFill() time.Duration {
	if o.ResolvedAt == nil {
		return 0
	}
	return o.ResolvedAt.Sub(o.SubmittedAt)
}

// OrderOutcome is the archived record of a resolved order, written once to
// the persistence collaborator when the order reaches a terminal state.
type OrderOutcome struct {
	Ticket      int64
	GapID       string
	Symbol      string
	Side        OrderSide
	State       OrderState
	EntryPrice  float64
	StopLoss    float64
	TakeProfit  float64
	Volume      float64
	FillPrice   float64 // 0 unless filled
	RiskReward  float64
	Confidence  float64
	SubmittedAt time.Time
	ResolvedAt  time.Time
	TimeToFill  time.Duration
}
