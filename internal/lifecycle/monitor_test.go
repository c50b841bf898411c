package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fvgbot/internal/domain"
	"fvgbot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockBroker struct {
	mu        sync.Mutex
	submitFn  func(intent domain.OrderIntent) (int64, error)
	openFn    func(symbol string) ([]ports.OpenOrder, error)
	historyFn func(symbol string, since time.Time) ([]ports.Execution, error)
	cancelFn  func(symbol string, ticket int64) error
	cancelled []int64
}

func (m *mockBroker) SubmitLimitOrder(ctx context.Context, intent domain.OrderIntent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitFn != nil {
		return m.submitFn(intent)
	}
	return 1001, nil
}

func (m *mockBroker) OpenOrders(ctx context.Context, symbol string) ([]ports.OpenOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openFn != nil {
		return m.openFn(symbol)
	}
	return nil, nil
}

func (m *mockBroker) TradeHistory(ctx context.Context, symbol string, since time.Time) ([]ports.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyFn != nil {
		return m.historyFn(symbol, since)
	}
	return nil, nil
}

func (m *mockBroker) CancelOrder(ctx context.Context, symbol string, ticket int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, ticket)
	if m.cancelFn != nil {
		return m.cancelFn(symbol, ticket)
	}
	return nil
}

func (m *mockBroker) cancelledTickets() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.cancelled))
	copy(out, m.cancelled)
	return out
}

type mockRepo struct {
	mu          sync.Mutex
	outcomes    []domain.OrderOutcome
	outcomeCh   chan domain.OrderOutcome
	hasOutcome  map[int64]bool
	recordGapFn func(gap *domain.Gap) (int64, error)
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		outcomeCh:  make(chan domain.OrderOutcome, 16),
		hasOutcome: make(map[int64]bool),
	}
}

func (m *mockRepo) RecordGap(ctx context.Context, gap *domain.Gap, features domain.GapFeatures) (int64, error) {
	if m.recordGapFn != nil {
		return m.recordGapFn(gap)
	}
	return 1, nil
}

func (m *mockRepo) RecordOutcome(ctx context.Context, outcome domain.OrderOutcome) error {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.mu.Unlock()
	m.outcomeCh <- outcome
	return nil
}

func (m *mockRepo) HasOutcome(ctx context.Context, ticket int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasOutcome[ticket], nil
}

type mockReleaser struct {
	mu       sync.Mutex
	released []string
}

func (m *mockReleaser) Release(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, symbol)
}

func (m *mockReleaser) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.released)
}

func testMonitorConfig() Config {
	return Config{
		PollInterval:    5 * time.Millisecond,
		Workers:         2,
		QueueSize:       8,
		MaxPollFailures: 3,
		RetryMinBackoff: time.Millisecond,
		RetryMaxBackoff: 10 * time.Millisecond,
	}
}

func testIntent(expiry time.Time) domain.OrderIntent {
	return domain.OrderIntent{
		ID:         "intent-1",
		GapID:      "gap-1",
		Symbol:     "ETHUSDT",
		Side:       domain.Buy,
		EntryPrice: 1.1010,
		StopLoss:   1.1003,
		TakeProfit: 1.1027,
		Volume:     0.018,
		Expiry:     expiry,
		RiskReward: 2.4,
		Confidence: 0.8,
		CreatedAt:  time.Now().UTC(),
	}
}

func newTestMonitor(t *testing.T, broker *mockBroker, repo *mockRepo, gate *mockReleaser) *Monitor {
	t.Helper()
	m, err := New(testMonitorConfig(), broker, repo, gate, &mockLogger{}, ports.NopMetrics{})
	require.NoError(t, err)
	return m
}

func waitOutcome(t *testing.T, repo *mockRepo) domain.OrderOutcome {
	t.Helper()
	select {
	case outcome := <-repo.outcomeCh:
		return outcome
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an archived outcome")
		return domain.OrderOutcome{}
	}
}

func TestMonitor_FilledViaTradeHistory(t *testing.T) {
	broker := &mockBroker{
		historyFn: func(symbol string, since time.Time) ([]ports.Execution, error) {
			return []ports.Execution{{Ticket: 1001, Symbol: symbol, Price: 1.1009, Volume: 0.018, ExecutedAt: time.Now()}}, nil
		},
	}
	repo := newMockRepo()
	gate := &mockReleaser{}
	m := newTestMonitor(t, broker, repo, gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	order, err := m.Submit(ctx, testIntent(time.Now().Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, int64(1001), order.Ticket)

	outcome := waitOutcome(t, repo)
	assert.Equal(t, domain.OrderFilled, outcome.State)
	assert.Equal(t, int64(1001), outcome.Ticket)
	assert.Equal(t, 1.1009, outcome.FillPrice)
	assert.Equal(t, "gap-1", outcome.GapID)
	assert.Eventually(t, func() bool { return gate.count() == 1 }, time.Second, 5*time.Millisecond,
		"terminal state must free the concurrency slot")
	assert.Equal(t, domain.OrderFilled, order.State)
}

func TestMonitor_ExpiredOrderIsCancelled(t *testing.T) {
	// The broker still lists the order as open, but the intent expiry has
	// passed: the monitor cancels it and archives Expired.
	broker := &mockBroker{
		openFn: func(symbol string) ([]ports.OpenOrder, error) {
			return []ports.OpenOrder{{Ticket: 1001, Symbol: symbol, Side: domain.Buy, Price: 1.1010, Volume: 0.018}}, nil
		},
	}
	repo := newMockRepo()
	gate := &mockReleaser{}
	m := newTestMonitor(t, broker, repo, gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	_, err := m.Submit(ctx, testIntent(time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	outcome := waitOutcome(t, repo)
	assert.Equal(t, domain.OrderExpired, outcome.State)
	assert.Equal(t, 0.0, outcome.FillPrice)
	assert.Contains(t, broker.cancelledTickets(), int64(1001))
}

func TestMonitor_ExpiredWithoutFillRecord(t *testing.T) {
	// Order is gone from the book, never shows up in the trade history,
	// and the expiry has passed: Expired, not Unknown.
	broker := &mockBroker{}
	repo := newMockRepo()
	gate := &mockReleaser{}
	m := newTestMonitor(t, broker, repo, gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	_, err := m.Submit(ctx, testIntent(time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	outcome := waitOutcome(t, repo)
	assert.Equal(t, domain.OrderExpired, outcome.State)
}

func TestMonitor_UnknownAfterRepeatedFailures(t *testing.T) {
	broker := &mockBroker{
		openFn: func(symbol string) ([]ports.OpenOrder, error) {
			return nil, ports.ErrBrokerUnavailable
		},
	}
	repo := newMockRepo()
	gate := &mockReleaser{}
	m := newTestMonitor(t, broker, repo, gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	order, err := m.Submit(ctx, testIntent(time.Now().Add(time.Hour)))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(m.UnknownOrders()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.OrderUnknown, order.State)
	// Financial state is never assumed: nothing archived, slot kept.
	assert.Empty(t, repo.outcomes)
	assert.Equal(t, 0, gate.count())
}

func TestMonitor_DefinitiveRejectionArchivesOutcome(t *testing.T) {
	broker := &mockBroker{
		submitFn: func(intent domain.OrderIntent) (int64, error) {
			return 0, ports.ErrOrderPlacementFailed
		},
	}
	repo := newMockRepo()
	gate := &mockReleaser{}
	m := newTestMonitor(t, broker, repo, gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	_, err := m.Submit(ctx, testIntent(time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, ports.ErrOrderPlacementFailed)

	outcome := waitOutcome(t, repo)
	assert.Equal(t, domain.OrderRejected, outcome.State)
	assert.Equal(t, 1, gate.count())
}

func TestMonitor_SubmitRetriesTransportFailures(t *testing.T) {
	var attempts int
	broker := &mockBroker{
		submitFn: func(intent domain.OrderIntent) (int64, error) {
			attempts++
			if attempts < 3 {
				return 0, ports.ErrConnectionFailed
			}
			return 2002, nil
		},
		historyFn: func(symbol string, since time.Time) ([]ports.Execution, error) {
			return []ports.Execution{{Ticket: 2002, Symbol: symbol, Price: 1.1009}}, nil
		},
	}
	repo := newMockRepo()
	gate := &mockReleaser{}
	m := newTestMonitor(t, broker, repo, gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	order, err := m.Submit(ctx, testIntent(time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, int64(2002), order.Ticket)
	assert.Equal(t, 3, attempts)
	waitOutcome(t, repo)
}

func TestMonitor_SubmitAfterStop(t *testing.T) {
	broker := &mockBroker{}
	repo := newMockRepo()
	gate := &mockReleaser{}
	m := newTestMonitor(t, broker, repo, gate)

	ctx := context.Background()
	m.Start(ctx)
	m.Stop()

	_, err := m.Submit(ctx, testIntent(time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.Equal(t, 1, gate.count(), "intent slot is freed when refused")
}

func TestMonitor_AdoptSkipsArchivedOrders(t *testing.T) {
	broker := &mockBroker{
		historyFn: func(symbol string, since time.Time) ([]ports.Execution, error) {
			return []ports.Execution{{Ticket: 3003, Symbol: symbol, Price: 1.1009}}, nil
		},
	}
	repo := newMockRepo()
	repo.hasOutcome[4004] = true
	gate := &mockReleaser{}
	m := newTestMonitor(t, broker, repo, gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	archived := &domain.LiveOrder{Intent: testIntent(time.Now().Add(time.Hour)), Ticket: 4004, State: domain.OrderPending, SubmittedAt: time.Now()}
	recovered := &domain.LiveOrder{Intent: testIntent(time.Now().Add(time.Hour)), Ticket: 3003, State: domain.OrderPending, SubmittedAt: time.Now()}
	require.NoError(t, m.Adopt(ctx, []*domain.LiveOrder{archived, recovered}))

	outcome := waitOutcome(t, repo)
	assert.Equal(t, int64(3003), outcome.Ticket)
	assert.Equal(t, domain.OrderFilled, outcome.State)

	// Only the recovered order produced an outcome.
	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Len(t, repo.outcomes, 1)
}

func TestMonitor_ConsistencyViolationFreezes(t *testing.T) {
	broker := &mockBroker{
		historyFn: func(symbol string, since time.Time) ([]ports.Execution, error) {
			return []ports.Execution{{Ticket: 5005, Symbol: symbol, Price: 1.1009}}, nil
		},
	}
	repo := newMockRepo()
	gate := &mockReleaser{}
	m := newTestMonitor(t, broker, repo, gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	// An order adopted in a terminal state cannot transition again: the
	// monitor must freeze it instead of silently correcting.
	corrupt := &domain.LiveOrder{Intent: testIntent(time.Now().Add(time.Hour)), Ticket: 5005, State: domain.OrderCancelled, SubmittedAt: time.Now()}
	require.NoError(t, m.Adopt(ctx, []*domain.LiveOrder{corrupt}))

	assert.Eventually(t, func() bool { return len(m.FrozenOrders()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, corrupt.Frozen)
	assert.Equal(t, domain.OrderCancelled, corrupt.State, "state is never silently corrected")
	assert.Empty(t, repo.outcomes)
	assert.Equal(t, 0, gate.count())
}
