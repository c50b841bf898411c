package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveOrder_Transition(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		from    OrderState
		to      OrderState
		wantErr bool
	}{
		{name: "pending to filled", from: OrderPending, to: OrderFilled},
		{name: "pending to expired", from: OrderPending, to: OrderExpired},
		{name: "pending to cancelled", from: OrderPending, to: OrderCancelled},
		{name: "pending to unknown", from: OrderPending, to: OrderUnknown},
		{name: "unknown back to pending", from: OrderUnknown, to: OrderPending},
		{name: "unknown to filled", from: OrderUnknown, to: OrderFilled},
		{name: "filled is a sink", from: OrderFilled, to: OrderExpired, wantErr: true},
		{name: "expired is a sink", from: OrderExpired, to: OrderFilled, wantErr: true},
		{name: "cancelled is a sink", from: OrderCancelled, to: OrderPending, wantErr: true},
		{name: "rejected is a sink", from: OrderRejected, to: OrderFilled, wantErr: true},
		{name: "filled cannot re-enter pending", from: OrderFilled, to: OrderPending, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &LiveOrder{Ticket: 42, State: tt.from}
			err := order.Transition(tt.to, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTerminalState)
				assert.Equal(t, tt.from, order.State, "a refused transition must not change state")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.to, order.State)
				if tt.to.IsTerminal() {
					require.NotNil(t, order.ResolvedAt)
					assert.Equal(t, now, *order.ResolvedAt)
				}
			}
		})
	}
}

func TestLiveOrder_FrozenTakesNoTransitions(t *testing.T) {
	order := &LiveOrder{Ticket: 7, State: OrderPending}
	order.Freeze()
	err := order.Transition(OrderFilled, time.Now())
	assert.ErrorIs(t, err, ErrTerminalState)
	assert.Equal(t, OrderPending, order.State)
}

func TestLiveOrder_TimeToFill(t *testing.T) {
	submitted := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	order := &LiveOrder{State: OrderPending, SubmittedAt: submitted}
	assert.Equal(t, time.Duration(0), order.TimeToFill(), "unresolved order has no fill time")

	require.NoError(t, order.Transition(OrderFilled, submitted.Add(90*time.Second)))
	assert.Equal(t, 90*time.Second, order.TimeToFill())
}

func TestOrderState_IsTerminal(t *testing.T) {
	assert.False(t, OrderPending.IsTerminal())
	assert.False(t, OrderUnknown.IsTerminal())
	for _, s := range []OrderState{OrderFilled, OrderExpired, OrderCancelled, OrderRejected} {
		assert.True(t, s.IsTerminal(), string(s))
	}
}
