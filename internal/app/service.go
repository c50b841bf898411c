package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fvgbot/config"
	"fvgbot/internal/analysis"
	"fvgbot/internal/confluence"
	"fvgbot/internal/detector"
	"fvgbot/internal/domain"
	"fvgbot/internal/lifecycle"
	"fvgbot/internal/orders"
	"fvgbot/internal/ports"
	"fvgbot/internal/quality"
)

const historyCacheSize = 500 // Candles retained per stream for context derivation

// stream bundles the per-(symbol, timeframe) detector with its candle
// history cache. Both are guarded by the service mutex.
type stream struct {
	det     *detector.StreamDetector
	history []domain.Candle
}

// Deps are the collaborators of the pipeline service. Broker is optional
// and only used to re-adopt orders left open at the exchange by a
// previous run.
type Deps struct {
	Logger     ports.Logger
	Candles    ports.CandleSource
	Broker     ports.BrokerGateway
	Repo       ports.OutcomeRepository
	Metrics    ports.Metrics
	Aggregator *confluence.Aggregator
	Scorer     *quality.Scorer
	Contexts   *analysis.ContextBuilder
	Params     *orders.Parameterizer
	Monitor    *lifecycle.Monitor
}

// Service orchestrates the decision pipeline: candle streams feed the
// per-stream gap detectors, and a periodic aggregation cycle scores the
// Active gaps, finds cross-timeframe confluence and converts qualified
// gaps into monitored limit orders.
type Service struct {
	cfg  *config.Config
	deps Deps

	mu        sync.Mutex
	streams   map[domain.StreamKey]*stream
	lastPrice map[string]float64
	recorded  map[string]bool // Gap IDs already scored and archived
	decided   map[string]bool // Gap IDs whose trade decision is final
}

// NewService creates the pipeline service and its per-stream detectors.
func NewService(cfg *config.Config, deps Deps) (*Service, error) {
	if cfg == nil || deps.Logger == nil || deps.Candles == nil || deps.Repo == nil ||
		deps.Aggregator == nil || deps.Scorer == nil || deps.Contexts == nil ||
		deps.Params == nil || deps.Monitor == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for pipeline service", ports.ErrConfigurationError)
	}
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}

	det, err := detector.New(detector.Config{
		MinGapSize:         cfg.MinGapSize,
		MaxGapSize:         cfg.MaxGapSize,
		BodyRatioThreshold: cfg.BodyRatioThreshold,
	})
	if err != nil {
		return nil, err
	}

	streams := make(map[domain.StreamKey]*stream, len(cfg.Symbols)*len(cfg.Timeframes))
	for _, symbol := range cfg.Symbols {
		for _, tf := range cfg.Timeframes {
			key := domain.StreamKey{Symbol: symbol, Timeframe: tf}
			sd, err := detector.NewStream(key, det, detector.StreamConfig{
				MaxActiveGaps: cfg.MaxActiveGaps,
				MaxGapAge:     cfg.MaxGapAge,
			})
			if err != nil {
				return nil, err
			}
			streams[key] = &stream{det: sd}
		}
	}

	return &Service{
		cfg:       cfg,
		deps:      deps,
		streams:   streams,
		lastPrice: make(map[string]float64),
		recorded:  make(map[string]bool),
		decided:   make(map[string]bool),
	}, nil
}

// Start runs the pipeline until the context is cancelled or a termination
// signal arrives. It primes every stream from history, subscribes to the
// live candle streams and drives the aggregation cycle.
func (s *Service) Start(ctx context.Context) error {
	s.deps.Logger.Info(ctx, "Starting decision pipeline...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.deps.Logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	s.deps.Monitor.Start(ctx)
	defer s.deps.Monitor.Stop()

	s.adoptOpenOrders(ctx)

	if err := s.primeStreams(ctx); err != nil {
		return err
	}

	// Subscribe to every live stream. A stream that dies for good is fatal
	// for the whole pipeline: trading on a partial market view is worse
	// than not trading.
	fatalCh := make(chan domain.StreamKey, len(s.streams))
	stopChs := make([]chan struct{}, 0, len(s.streams))
	doneChs := make([]chan struct{}, 0, len(s.streams))
	for key := range s.streams {
		key := key
		doneCh, stopCh, err := s.deps.Candles.StreamCandles(ctx, key,
			func(candle domain.Candle) { s.handleCandle(key, candle) },
			func(err error) { s.handleStreamError(key, err) },
		)
		if err != nil {
			s.shutdownStreams(ctx, stopChs, doneChs)
			return fmt.Errorf("failed to start candle stream %s/%s: %w", key.Symbol, key.Timeframe, err)
		}
		stopChs = append(stopChs, stopCh)
		doneChs = append(doneChs, doneCh)
		go func() {
			<-doneCh
			select {
			case fatalCh <- key:
			default:
			}
		}()
	}
	s.deps.Logger.Info(ctx, "Candle streams started", map[string]interface{}{"streams": len(s.streams)})

	ticker := time.NewTicker(s.cfg.AggregationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCycle(ctx)
		case key := <-fatalCh:
			if ctx.Err() != nil {
				continue
			}
			err := fmt.Errorf("candle stream %s/%s stopped unexpectedly", key.Symbol, key.Timeframe)
			s.deps.Logger.Error(ctx, err, "Candle stream lost, shutting down")
			s.shutdownStreams(ctx, stopChs, doneChs)
			return err
		case <-ctx.Done():
			s.deps.Logger.Info(ctx, "Shutdown initiated, draining pipeline...")
			s.shutdownStreams(ctx, stopChs, doneChs)
			s.deps.Logger.Info(ctx, "Decision pipeline stopped.")
			return nil
		}
	}
}

// adoptOpenOrders hands orders the broker still holds from a previous run
// back to the lifecycle monitor. The original intent died with the
// process, so it is reconstructed from the broker's view; the expiry
// restarts at the base window so a stale order is cancelled rather than
// polled forever. The monitor skips tickets whose outcome was already
// archived.
func (s *Service) adoptOpenOrders(ctx context.Context) {
	if s.deps.Broker == nil {
		return
	}
	now := time.Now().UTC()
	expiry := now.Add(time.Duration(s.cfg.BaseExpiryHours * float64(time.Hour)))

	for _, symbol := range s.cfg.Symbols {
		open, err := s.deps.Broker.OpenOrders(ctx, symbol)
		if err != nil {
			s.deps.Logger.Error(ctx, err, "Failed to list open orders for recovery", map[string]interface{}{"symbol": symbol})
			continue
		}
		if len(open) == 0 {
			continue
		}

		recovered := make([]*domain.LiveOrder, 0, len(open))
		for _, o := range open {
			if !s.deps.Params.Gate().Reserve(o.Symbol) {
				s.deps.Logger.Warn(ctx, "Recovered orders exceed per-symbol cap", map[string]interface{}{
					"symbol": o.Symbol,
					"ticket": o.Ticket,
				})
			}
			recovered = append(recovered, &domain.LiveOrder{
				Intent: domain.OrderIntent{
					ID:         fmt.Sprintf("recovered-%d", o.Ticket),
					Symbol:     o.Symbol,
					Side:       o.Side,
					EntryPrice: o.Price,
					Volume:     o.Volume,
					Expiry:     expiry,
					CreatedAt:  now,
				},
				Ticket:      o.Ticket,
				State:       domain.OrderPending,
				SubmittedAt: now,
			})
		}
		if err := s.deps.Monitor.Adopt(ctx, recovered); err != nil {
			s.deps.Logger.Error(ctx, err, "Failed to adopt recovered orders", map[string]interface{}{"symbol": symbol})
			continue
		}
		s.deps.Logger.Info(ctx, "Adopted open orders from previous run", map[string]interface{}{
			"symbol": symbol,
			"count":  len(recovered),
		})
	}
}

// primeStreams replays recent history through every stream detector so
// gaps formed before startup participate immediately.
func (s *Service) primeStreams(ctx context.Context) error {
	for key, st := range s.streams {
		candles, err := s.deps.Candles.GetCandles(ctx, key, historyCacheSize)
		if err != nil {
			return fmt.Errorf("failed to load history for %s/%s: %w", key.Symbol, key.Timeframe, err)
		}

		s.mu.Lock()
		st.history = candles
		st.det.Prime(candles)
		if len(candles) > 0 {
			s.lastPrice[key.Symbol] = candles[len(candles)-1].Close
		}
		active := len(st.det.ActiveGaps())
		s.mu.Unlock()

		s.deps.Metrics.SetActiveGaps(key.Symbol, key.Timeframe, active)
		s.deps.Logger.Info(ctx, "Stream primed from history", map[string]interface{}{
			"symbol":     key.Symbol,
			"timeframe":  string(key.Timeframe),
			"candles":    len(candles),
			"activeGaps": active,
		})
	}
	return nil
}

// handleCandle feeds one closed candle into its stream detector and
// surfaces the resulting gap events.
func (s *Service) handleCandle(key domain.StreamKey, candle domain.Candle) {
	ctx := context.Background()

	s.mu.Lock()
	st, ok := s.streams[key]
	if !ok {
		s.mu.Unlock()
		return
	}

	newGap, archived, err := st.det.Push(candle)
	if err != nil {
		s.mu.Unlock()
		s.deps.Logger.Warn(ctx, "Dropped candle", map[string]interface{}{
			"symbol":    key.Symbol,
			"timeframe": string(key.Timeframe),
			"openTime":  candle.OpenTime,
			"error":     err.Error(),
		})
		return
	}

	st.history = append(st.history, candle)
	if len(st.history) > historyCacheSize {
		st.history = st.history[len(st.history)-historyCacheSize:]
	}
	s.lastPrice[key.Symbol] = candle.Close
	active := len(st.det.ActiveGaps())
	s.mu.Unlock()

	for _, gap := range archived {
		s.deps.Metrics.GapArchived(key.Symbol, key.Timeframe, gap.Status)
		s.deps.Logger.Info(ctx, "Gap left active set", map[string]interface{}{
			"gapID":  gap.ID,
			"symbol": gap.Symbol,
			"status": string(gap.Status),
		})
	}
	if newGap != nil {
		s.deps.Metrics.GapDetected(key.Symbol, key.Timeframe, newGap.Kind)
		s.deps.Logger.Info(ctx, "Fair value gap detected", map[string]interface{}{
			"gapID":     newGap.ID,
			"symbol":    newGap.Symbol,
			"timeframe": string(newGap.Timeframe),
			"kind":      string(newGap.Kind),
			"top":       newGap.Top,
			"bottom":    newGap.Bottom,
			"size":      newGap.Size,
		})
	}
	s.deps.Metrics.SetActiveGaps(key.Symbol, key.Timeframe, active)
}

func (s *Service) handleStreamError(key domain.StreamKey, err error) {
	s.deps.Logger.Warn(context.Background(), "Candle stream error reported", map[string]interface{}{
		"symbol":    key.Symbol,
		"timeframe": string(key.Timeframe),
		"error":     err.Error(),
	})
}

// gapSnapshot carries one Active gap together with the history of its
// stream, copied out under the lock so the cycle can work unsynchronized.
type gapSnapshot struct {
	gap     *domain.Gap
	key     domain.StreamKey
	history []domain.Candle
}

// runCycle executes one aggregation cycle over a consistent snapshot of
// every stream's Active gaps.
func (s *Service) runCycle(ctx context.Context) {
	s.mu.Lock()
	bySymbol := make(map[string]map[domain.Timeframe][]*domain.Gap)
	snapshots := make(map[string]gapSnapshot)
	for key, st := range s.streams {
		active := st.det.ActiveGaps()
		if len(active) == 0 {
			continue
		}
		history := make([]domain.Candle, len(st.history))
		copy(history, st.history)
		if bySymbol[key.Symbol] == nil {
			bySymbol[key.Symbol] = make(map[domain.Timeframe][]*domain.Gap)
		}
		bySymbol[key.Symbol][key.Timeframe] = active
		for _, gap := range active {
			snapshots[gap.ID] = gapSnapshot{gap: gap, key: key, history: history}
		}
	}
	prices := make(map[string]float64, len(s.lastPrice))
	for symbol, price := range s.lastPrice {
		prices[symbol] = price
	}
	s.mu.Unlock()

	for symbol, gapsByTF := range bySymbol {
		s.evaluateSymbol(ctx, symbol, gapsByTF, snapshots, prices[symbol])
	}
}

// evaluateSymbol aggregates confluence for one symbol, scores and archives
// newly seen gaps, and parameterizes orders for confluence-backed gaps
// that clear the quality bar.
func (s *Service) evaluateSymbol(ctx context.Context, symbol string, gapsByTF map[domain.Timeframe][]*domain.Gap, snapshots map[string]gapSnapshot, price float64) {
	confluences := s.deps.Aggregator.Aggregate(gapsByTF)

	best := make(map[string]float64)
	inConfluence := make(map[string]bool)
	for _, c := range confluences {
		s.deps.Metrics.ConfluenceFound(symbol)
		for _, gap := range []*domain.Gap{c.GapA, c.GapB} {
			inConfluence[gap.ID] = true
			if c.Strength > best[gap.ID] {
				best[gap.ID] = c.Strength
			}
		}
	}
	if len(confluences) > 0 {
		s.deps.Logger.Info(ctx, "Cross-timeframe confluences found", map[string]interface{}{
			"symbol":    symbol,
			"count":     len(confluences),
			"strongest": confluences[0].Strength,
		})
	}

	// Score and archive every gap the cycle sees for the first time. The
	// score is computed once per gap; later cycles reuse it.
	for id, snap := range snapshots {
		if snap.key.Symbol != symbol || s.isRecorded(id) {
			continue
		}
		result := s.scoreGap(snap)
		s.markScored(snap.gap, result)

		features := domain.GapFeatures{
			QualityScore:       result.Score,
			QualityLevel:       string(result.Level),
			SizeScore:          result.Breakdown.SizeScore,
			StructureScore:     result.Breakdown.StructureScore,
			ContextScore:       result.Breakdown.ContextScore,
			VolumeScore:        result.Breakdown.VolumeScore,
			ConfluenceStrength: best[id],
		}
		if _, err := s.deps.Repo.RecordGap(ctx, snap.gap, features); err != nil {
			s.deps.Logger.Error(ctx, err, "Failed to archive gap", map[string]interface{}{"gapID": id})
		}
		s.deps.Logger.Info(ctx, "Gap scored", map[string]interface{}{
			"gapID":  id,
			"symbol": symbol,
			"score":  result.Score,
			"level":  string(result.Level),
		})
	}

	// Only confluence-backed gaps are trade candidates.
	for id := range inConfluence {
		snap, ok := snapshots[id]
		if !ok || snap.key.Symbol != symbol || s.isDecided(id) {
			continue
		}
		s.decideTrade(ctx, snap, price)
	}
}

// scoreGap derives the market and volume context from the stream history
// and scores the gap.
func (s *Service) scoreGap(snap gapSnapshot) quality.Result {
	market := s.deps.Contexts.Market(snap.history, snap.gap.Kind)
	volume := s.deps.Contexts.Volume(snap.history, snap.gap.ImpulseCandle())
	return s.deps.Scorer.Score(snap.gap, market, volume)
}

// decideTrade runs the parameterization gate for one confluence-backed
// gap. Most rejections are final for the gap; a concurrency-cap rejection
// leaves the decision open so the gap can retry on a later cycle.
func (s *Service) decideTrade(ctx context.Context, snap gapSnapshot, price float64) {
	score := s.qualityOf(snap.gap)
	if score < s.cfg.MinQualityScore {
		s.markDecided(snap.gap.ID)
		s.deps.Metrics.IntentRejected(snap.gap.Symbol, "quality_below_minimum")
		s.deps.Logger.Info(ctx, "Gap below quality bar, not traded", map[string]interface{}{
			"gapID": snap.gap.ID,
			"score": score,
		})
		return
	}

	intent, err := s.deps.Params.Parameterize(snap.gap, score/10, orders.TradeContext{
		CurrentPrice: price,
		Now:          time.Now().UTC(),
	})
	if err != nil {
		reason := rejectionReason(err)
		s.deps.Metrics.IntentRejected(snap.gap.Symbol, reason)
		s.deps.Logger.Info(ctx, "Order intent rejected", map[string]interface{}{
			"gapID":  snap.gap.ID,
			"reason": reason,
			"error":  err.Error(),
		})
		if !errors.Is(err, orders.ErrConcurrencyLimit) {
			s.markDecided(snap.gap.ID)
		}
		return
	}

	s.markDecided(snap.gap.ID)
	if _, err := s.deps.Monitor.Submit(ctx, *intent); err != nil {
		s.deps.Logger.Error(ctx, err, "Order submission failed", map[string]interface{}{
			"gapID":  snap.gap.ID,
			"symbol": intent.Symbol,
		})
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, orders.ErrRiskRewardTooLow):
		return "risk_reward_too_low"
	case errors.Is(err, orders.ErrConcurrencyLimit):
		return "concurrency_limit"
	case errors.Is(err, orders.ErrGapNotTradable):
		return "gap_not_active"
	case errors.Is(err, orders.ErrVolumeBelowStep):
		return "volume_below_step"
	default:
		return "error"
	}
}

func (s *Service) isRecorded(gapID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorded[gapID]
}

func (s *Service) markScored(gap *domain.Gap, result quality.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score := result.Score
	gap.QualityScore = &score
	s.recorded[gap.ID] = true
}

func (s *Service) qualityOf(gap *domain.Gap) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gap.QualityScore == nil {
		return 0
	}
	return *gap.QualityScore
}

func (s *Service) isDecided(gapID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decided[gapID]
}

func (s *Service) markDecided(gapID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decided[gapID] = true
}

// shutdownStreams signals every websocket to stop and waits briefly for
// them to wind down.
func (s *Service) shutdownStreams(ctx context.Context, stopChs, doneChs []chan struct{}) {
	for _, stopCh := range stopChs {
		close(stopCh)
	}
	deadline := time.After(5 * time.Second)
	for _, doneCh := range doneChs {
		select {
		case <-doneCh:
		case <-deadline:
			s.deps.Logger.Warn(ctx, "Timeout waiting for candle streams to shut down")
			return
		}
	}
}
