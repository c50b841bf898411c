package detector

import (
	"fmt"
	"time"

	"fvgbot/internal/domain"
	"fvgbot/internal/ports"
)

// StreamConfig bounds the state a stream detector may accumulate.
type StreamConfig struct {
	MaxActiveGaps int           // Most recent Active gaps retained
	MaxGapAge     time.Duration // Gaps older than this are expired
}

// StreamDetector is the single authoritative real-time detector for one
// (symbol, timeframe) stream. It keeps a three-candle window, tracks its
// own Active gaps in a size-bounded list, and transitions them to Filled
// or Expired as later candles close.
//
// A StreamDetector is owned by exactly one goroutine; it is not safe for
// concurrent use.
type StreamDetector struct {
	key    domain.StreamKey
	det    *Detector
	cfg    StreamConfig
	window []domain.Candle
	active []*domain.Gap
	lastAt time.Time
}

// NewStream creates a streaming detector for one candle stream.
func NewStream(key domain.StreamKey, det *Detector, cfg StreamConfig) (*StreamDetector, error) {
	if det == nil {
		return nil, fmt.Errorf("%w: detector is required", ports.ErrConfigurationError)
	}
	if cfg.MaxActiveGaps <= 0 {
		return nil, fmt.Errorf("%w: MaxActiveGaps must be positive", ports.ErrConfigurationError)
	}
	if cfg.MaxGapAge <= 0 {
		return nil, fmt.Errorf("%w: MaxGapAge must be positive", ports.ErrConfigurationError)
	}
	return &StreamDetector{
		key:    key,
		det:    det,
		cfg:    cfg,
		window: make([]domain.Candle, 0, 3),
	}, nil
}

// Key returns the stream identity.
func (s *StreamDetector) Key() domain.StreamKey { return s.key }

// Push feeds one closed candle into the stream. It returns the newly
// formed gap, if any, and the gaps that left Active on this candle
// (filled or expired) for archival. A malformed or out-of-order candle
// returns an error and leaves the stream state untouched.
func (s *StreamDetector) Push(candle domain.Candle) (*domain.Gap, []*domain.Gap, error) {
	if err := candle.Validate(); err != nil {
		return nil, nil, err
	}
	if !s.lastAt.IsZero() && !candle.OpenTime.After(s.lastAt) {
		return nil, nil, fmt.Errorf("%w: candle at %s not after %s", domain.ErrInvalidCandle, candle.OpenTime, s.lastAt)
	}
	s.lastAt = candle.OpenTime

	archived := s.settle(candle)

	s.window = append(s.window, candle)
	if len(s.window) > 3 {
		s.window = s.window[1:]
	}
	if len(s.window) < 3 {
		return nil, archived, nil
	}

	gap, err := s.det.Detect([3]domain.Candle{s.window[0], s.window[1], s.window[2]})
	if err != nil || gap == nil {
		return nil, archived, err
	}

	s.active = append(s.active, gap)
	// Bounded retention: drop the oldest Active gaps beyond the cap. The
	// dropped gaps are expired and handed back for archival.
	for len(s.active) > s.cfg.MaxActiveGaps {
		oldest := s.active[0]
		s.active = s.active[1:]
		if err := oldest.MarkExpired(candle.OpenTime); err == nil {
			archived = append(archived, oldest)
		}
	}
	return gap, archived, nil
}

// settle transitions Active gaps that the new candle fills or ages out.
func (s *StreamDetector) settle(candle domain.Candle) []*domain.Gap {
	var archived []*domain.Gap
	remaining := s.active[:0]
	for _, gap := range s.active {
		switch {
		case gapFilledBy(gap, candle):
			if err := gap.MarkFilled(candle.OpenTime); err == nil {
				archived = append(archived, gap)
			}
		case candle.OpenTime.Sub(gap.FormationTime) > s.cfg.MaxGapAge:
			if err := gap.MarkExpired(candle.OpenTime); err == nil {
				archived = append(archived, gap)
			}
		default:
			remaining = append(remaining, gap)
		}
	}
	s.active = remaining
	return archived
}

// gapFilledBy reports whether the candle close re-entered the gap region.
// A bullish gap fills when price retraces down to its top or beyond; a
// bearish gap fills when price returns up to its bottom or beyond.
func gapFilledBy(gap *domain.Gap, candle domain.Candle) bool {
	if gap.Kind == domain.Bullish {
		return candle.Close <= gap.Top
	}
	return candle.Close >= gap.Bottom
}

// ActiveGaps returns the gaps currently participating in the pipeline,
// oldest first. The returned slice is a copy; the gaps are shared.
func (s *StreamDetector) ActiveGaps() []*domain.Gap {
	out := make([]*domain.Gap, len(s.active))
	copy(out, s.active)
	return out
}

// Prime replays historical candles through the stream to rebuild the
// window and the Active gap set, e.g. after a restart. Invalid candles
// are skipped, matching live-stream behaviour.
func (s *StreamDetector) Prime(candles []domain.Candle) []*domain.Gap {
	var archived []*domain.Gap
	for _, c := range candles {
		_, settled, err := s.Push(c)
		if err != nil {
			continue
		}
		archived = append(archived, settled...)
	}
	return archived
}
