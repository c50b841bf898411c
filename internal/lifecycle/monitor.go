package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"fvgbot/internal/domain"
	"fvgbot/internal/ports"
)

// ErrShuttingDown is returned by Submit once the monitor has stopped
// accepting new intents.
var ErrShuttingDown = errors.New("lifecycle monitor is shutting down")

// Releaser frees a per-symbol concurrency slot when an order reaches a
// terminal state.
type Releaser interface {
	Release(symbol string)
}

// Config holds the monitoring parameters.
type Config struct {
	PollInterval    time.Duration // Delay between poll cycles for a pending order
	Workers         int           // Size of the polling worker pool
	QueueSize       int           // Buffered capacity of the submission queue
	MaxPollFailures int           // Consecutive broker failures before flagging Unknown
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration
}

// Monitor reconciles submitted orders against the broker until each
// reaches a terminal outcome. Every live order is owned by exactly one
// worker goroutine, so its state has a single writer by construction.
type Monitor struct {
	cfg     Config
	broker  ports.BrokerGateway
	repo    ports.OutcomeRepository
	gate    Releaser
	logger  ports.Logger
	metrics ports.Metrics

	queue chan *domain.LiveOrder
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	live    int
	unknown map[int64]*domain.LiveOrder
	frozen  map[int64]*domain.LiveOrder
}

// New creates a lifecycle monitor.
func New(cfg Config, broker ports.BrokerGateway, repo ports.OutcomeRepository, gate Releaser, logger ports.Logger, metrics ports.Metrics) (*Monitor, error) {
	if broker == nil || repo == nil || gate == nil || logger == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for lifecycle monitor", ports.ErrConfigurationError)
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("%w: PollInterval must be positive", ports.ErrConfigurationError)
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("%w: Workers must be positive", ports.ErrConfigurationError)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.MaxPollFailures <= 0 {
		return nil, fmt.Errorf("%w: MaxPollFailures must be positive", ports.ErrConfigurationError)
	}
	if cfg.RetryMinBackoff <= 0 {
		cfg.RetryMinBackoff = 500 * time.Millisecond
	}
	if cfg.RetryMaxBackoff < cfg.RetryMinBackoff {
		cfg.RetryMaxBackoff = 30 * time.Second
	}
	return &Monitor{
		cfg:     cfg,
		broker:  broker,
		repo:    repo,
		gate:    gate,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan *domain.LiveOrder, cfg.QueueSize),
		unknown: make(map[int64]*domain.LiveOrder),
		frozen:  make(map[int64]*domain.LiveOrder),
	}, nil
}

// Start launches the worker pool. Workers drain naturally after Stop
// closes the queue; cancellation of ctx gives every in-flight order one
// final poll instead of abandoning it mid-resolution.
func (m *Monitor) Start(ctx context.Context) {
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for order := range m.queue {
				m.monitorOrder(ctx, order)
			}
		}()
	}
}

// Stop closes the intake. No new intents are accepted; queued and
// in-flight orders drain before Stop returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.queue)
	m.wg.Wait()
}

// Submit places the intent at the broker and hands the resulting live
// order to the worker pool. The intent is consumed exactly once: a broker
// rejection archives a Rejected outcome and frees the concurrency slot.
func (m *Monitor) Submit(ctx context.Context, intent domain.OrderIntent) (*domain.LiveOrder, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.gate.Release(intent.Symbol)
		return nil, ErrShuttingDown
	}
	m.mu.Unlock()

	ticket, err := m.submitWithRetry(ctx, intent)
	if err != nil {
		if errors.Is(err, ports.ErrOrderPlacementFailed) || errors.Is(err, ports.ErrInvalidRequest) || errors.Is(err, ports.ErrInsufficientFunds) {
			// Definitive rejection: archive and discard the intent.
			rejected := &domain.LiveOrder{
				Intent:      intent,
				Ticket:      ticket,
				State:       domain.OrderPending,
				SubmittedAt: time.Now().UTC(),
			}
			m.finalize(ctx, rejected, domain.OrderRejected, 0)
			return nil, err
		}
		m.gate.Release(intent.Symbol)
		return nil, fmt.Errorf("order submission failed: %w", err)
	}

	order := &domain.LiveOrder{
		Intent:      intent,
		Ticket:      ticket,
		State:       domain.OrderPending,
		SubmittedAt: time.Now().UTC(),
	}
	m.track(order)
	m.metrics.OrderSubmitted(intent.Symbol)
	m.logger.Info(ctx, "Order submitted", map[string]interface{}{
		"ticket": ticket,
		"symbol": intent.Symbol,
		"side":   intent.Side,
		"entry":  intent.EntryPrice,
		"expiry": intent.Expiry,
	})

	select {
	case m.queue <- order:
		return order, nil
	case <-ctx.Done():
		return order, ctx.Err()
	}
}

// Adopt re-enqueues live orders recovered after a restart, skipping any
// whose outcome was already archived.
func (m *Monitor) Adopt(ctx context.Context, orders []*domain.LiveOrder) error {
	for _, order := range orders {
		archived, err := m.repo.HasOutcome(ctx, order.Ticket)
		if err != nil {
			return fmt.Errorf("restart recovery check for ticket %d: %w", order.Ticket, err)
		}
		if archived {
			m.logger.Info(ctx, "Skipping already-archived order", map[string]interface{}{"ticket": order.Ticket})
			continue
		}
		m.track(order)
		select {
		case m.queue <- order:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// UnknownOrders returns orders flagged for operator attention after
// exhausted broker retries.
func (m *Monitor) UnknownOrders() []*domain.LiveOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.LiveOrder, 0, len(m.unknown))
	for _, o := range m.unknown {
		out = append(out, o)
	}
	return out
}

// FrozenOrders returns orders frozen after a consistency violation.
func (m *Monitor) FrozenOrders() []*domain.LiveOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.LiveOrder, 0, len(m.frozen))
	for _, o := range m.frozen {
		out = append(out, o)
	}
	return out
}

func (m *Monitor) track(order *domain.LiveOrder) {
	m.mu.Lock()
	m.live++
	m.metrics.SetLiveOrders(m.live)
	m.mu.Unlock()
}

func (m *Monitor) untrack() {
	m.mu.Lock()
	m.live--
	m.metrics.SetLiveOrders(m.live)
	m.mu.Unlock()
}

// submitWithRetry retries transport failures with jittered exponential
// backoff. Definitive broker answers (placement rejected, bad request)
// are returned immediately.
func (m *Monitor) submitWithRetry(ctx context.Context, intent domain.OrderIntent) (int64, error) {
	b := &backoff.Backoff{Min: m.cfg.RetryMinBackoff, Max: m.cfg.RetryMaxBackoff, Jitter: true}
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxPollFailures; attempt++ {
		ticket, err := m.broker.SubmitLimitOrder(ctx, intent)
		if err == nil {
			return ticket, nil
		}
		if errors.Is(err, ports.ErrOrderPlacementFailed) || errors.Is(err, ports.ErrInvalidRequest) || errors.Is(err, ports.ErrInsufficientFunds) {
			return 0, err
		}
		lastErr = err
		m.logger.Warn(ctx, "Order submission failed, retrying", map[string]interface{}{
			"symbol":  intent.Symbol,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 0, lastErr
}

// monitorOrder polls one live order until it resolves. The order is owned
// by this goroutine for the whole loop, so each transition is applied at
// most once.
func (m *Monitor) monitorOrder(ctx context.Context, order *domain.LiveOrder) {
	defer m.untrack()

	b := &backoff.Backoff{Min: m.cfg.RetryMinBackoff, Max: m.cfg.RetryMaxBackoff, Jitter: true}
	failures := 0

	for {
		state, fillPrice, err := m.pollOnce(ctx, order)
		switch {
		case err != nil:
			failures++
			if failures >= m.cfg.MaxPollFailures {
				m.flagUnknown(ctx, order, err)
				return
			}
			if !m.sleep(ctx, b.Duration()) {
				m.finalPoll(ctx, order)
				return
			}
		case state.IsTerminal():
			m.finalize(ctx, order, state, fillPrice)
			return
		default:
			// Still pending: not an error, just not yet resolved.
			failures = 0
			b.Reset()
			if !m.sleep(ctx, m.cfg.PollInterval) {
				m.finalPoll(ctx, order)
				return
			}
		}
	}
}

// pollOnce evaluates the transition rule for one cycle: an order missing
// from the broker's open orders either filled (found in trade history) or
// expired (past its intent expiry); otherwise it remains pending. An
// order still open past its expiry is cancelled at the broker.
func (m *Monitor) pollOnce(ctx context.Context, order *domain.LiveOrder) (domain.OrderState, float64, error) {
	start := time.Now()
	defer func() {
		m.metrics.ObservePollDuration(time.Since(start).Seconds())
	}()

	open, err := m.broker.OpenOrders(ctx, order.Intent.Symbol)
	if err != nil {
		return domain.OrderPending, 0, fmt.Errorf("listing open orders: %w", err)
	}
	for _, o := range open {
		if o.Ticket != order.Ticket {
			continue
		}
		if time.Now().After(order.Intent.Expiry) {
			if err := m.broker.CancelOrder(ctx, order.Intent.Symbol, order.Ticket); err != nil && !errors.Is(err, ports.ErrOrderNotFound) {
				return domain.OrderPending, 0, fmt.Errorf("cancelling expired order: %w", err)
			}
			return domain.OrderExpired, 0, nil
		}
		return domain.OrderPending, 0, nil
	}

	execs, err := m.broker.TradeHistory(ctx, order.Intent.Symbol, order.SubmittedAt)
	if err != nil {
		return domain.OrderPending, 0, fmt.Errorf("reading trade history: %w", err)
	}
	for _, e := range execs {
		if e.Ticket == order.Ticket {
			return domain.OrderFilled, e.Price, nil
		}
	}
	if time.Now().After(order.Intent.Expiry) {
		return domain.OrderExpired, 0, nil
	}
	return domain.OrderPending, 0, nil
}

// finalPoll gives an in-flight order one last resolution attempt during
// shutdown so it is drained rather than abandoned.
func (m *Monitor) finalPoll(ctx context.Context, order *domain.LiveOrder) {
	pollCtx, cancel := context.WithTimeout(context.Background(), m.cfg.RetryMaxBackoff)
	defer cancel()
	state, fillPrice, err := m.pollOnce(pollCtx, order)
	if err != nil {
		m.flagUnknown(pollCtx, order, err)
		return
	}
	if state.IsTerminal() {
		m.finalize(pollCtx, order, state, fillPrice)
		return
	}
	m.logger.Warn(pollCtx, "Order still pending at shutdown", map[string]interface{}{"ticket": order.Ticket})
}

// finalize applies the terminal transition exactly once, archives the
// outcome and frees the concurrency slot. A transition refused by the
// state machine is a consistency violation: the order is frozen and
// surfaced, never silently corrected.
func (m *Monitor) finalize(ctx context.Context, order *domain.LiveOrder, state domain.OrderState, fillPrice float64) {
	now := time.Now().UTC()
	if err := order.Transition(state, now); err != nil {
		order.Freeze()
		m.mu.Lock()
		m.frozen[order.Ticket] = order
		m.mu.Unlock()
		m.logger.Error(ctx, err, "Consistency violation, order frozen for manual review", map[string]interface{}{
			"ticket": order.Ticket,
			"state":  order.State,
			"target": state,
		})
		return
	}

	outcome := domain.OrderOutcome{
		Ticket:      order.Ticket,
		GapID:       order.Intent.GapID,
		Symbol:      order.Intent.Symbol,
		Side:        order.Intent.Side,
		State:       state,
		EntryPrice:  order.Intent.EntryPrice,
		StopLoss:    order.Intent.StopLoss,
		TakeProfit:  order.Intent.TakeProfit,
		Volume:      order.Intent.Volume,
		RiskReward:  order.Intent.RiskReward,
		Confidence:  order.Intent.Confidence,
		SubmittedAt: order.SubmittedAt,
		ResolvedAt:  now,
		TimeToFill:  order.TimeToFill(),
	}
	if state == domain.OrderFilled {
		order.FillPrice = &fillPrice
		outcome.FillPrice = fillPrice
	}
	if err := m.repo.RecordOutcome(ctx, outcome); err != nil {
		m.logger.Error(ctx, err, "Failed to archive order outcome", map[string]interface{}{"ticket": order.Ticket})
	}

	switch state {
	case domain.OrderFilled:
		m.metrics.OrderFilled(order.Intent.Symbol)
	case domain.OrderExpired:
		m.metrics.OrderExpired(order.Intent.Symbol)
	}
	m.gate.Release(order.Intent.Symbol)
	m.logger.Info(ctx, "Order resolved", map[string]interface{}{
		"ticket":     order.Ticket,
		"state":      state,
		"timeToFill": order.TimeToFill().String(),
	})
}

// flagUnknown surfaces an order whose state could not be determined after
// exhausting retries. Financial state is never assumed: the concurrency
// slot stays reserved and the order awaits operator attention.
func (m *Monitor) flagUnknown(ctx context.Context, order *domain.LiveOrder, cause error) {
	if err := order.Transition(domain.OrderUnknown, time.Now().UTC()); err != nil {
		order.Freeze()
		m.mu.Lock()
		m.frozen[order.Ticket] = order
		m.mu.Unlock()
		m.logger.Error(ctx, err, "Consistency violation while flagging unknown", map[string]interface{}{"ticket": order.Ticket})
		return
	}
	m.mu.Lock()
	m.unknown[order.Ticket] = order
	m.mu.Unlock()
	m.metrics.OrderUnknown(order.Intent.Symbol)
	m.logger.Error(ctx, cause, "Order state unknown after repeated broker failures, operator attention required", map[string]interface{}{
		"ticket":   order.Ticket,
		"symbol":   order.Intent.Symbol,
		"failures": m.cfg.MaxPollFailures,
	})
}

func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
