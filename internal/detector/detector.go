package detector

import (
	"fmt"

	"github.com/google/uuid"

	"fvgbot/internal/domain"
	"fvgbot/internal/ports"
)

// Config holds the detection thresholds.
type Config struct {
	MinGapSize         float64 // Reject gaps smaller than this (price units)
	MaxGapSize         float64 // Reject gaps larger than this (price units)
	BodyRatioThreshold float64 // Minimum body/range ratio for the impulse candle
}

// Detector finds fair value gaps in three-candle windows. Detection is a
// pure function: no side effects, bounded cost, never blocks.
type Detector struct {
	cfg Config
}

// New creates a gap detector, validating the threshold domain.
func New(cfg Config) (*Detector, error) {
	if cfg.MinGapSize <= 0 {
		return nil, fmt.Errorf("%w: MinGapSize must be positive", ports.ErrConfigurationError)
	}
	if cfg.MaxGapSize <= cfg.MinGapSize {
		return nil, fmt.Errorf("%w: MaxGapSize must exceed MinGapSize", ports.ErrConfigurationError)
	}
	if cfg.BodyRatioThreshold <= 0 || cfg.BodyRatioThreshold > 1 {
		return nil, fmt.Errorf("%w: BodyRatioThreshold must be in (0, 1]", ports.ErrConfigurationError)
	}
	return &Detector{cfg: cfg}, nil
}

// Detect examines a window of three consecutive candles and returns a gap
// if a valid imbalance pattern is present, or nil if the window does not
// qualify. A malformed candle returns domain.ErrInvalidCandle; the caller
// skips the window and continues the stream.
func (d *Detector) Detect(window [3]domain.Candle) (*domain.Gap, error) {
	for i, c := range window {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("window candle %d: %w", i, err)
		}
	}

	c1, c2, c3 := window[0], window[1], window[2]

	// The middle candle must be a strong directional candle: large body
	// relative to its range. A zero-range candle is never strong.
	if c2.BodyRatio() < d.cfg.BodyRatioThreshold {
		return nil, nil
	}

	var kind domain.GapKind
	var top, bottom float64
	switch {
	case c2.IsBullish() && c3.Low > c1.High:
		kind = domain.Bullish
		top, bottom = c3.Low, c1.High
	case c2.IsBearish() && c3.High < c1.Low:
		kind = domain.Bearish
		top, bottom = c1.Low, c3.High
	default:
		return nil, nil
	}

	size := top - bottom
	if size < d.cfg.MinGapSize || size > d.cfg.MaxGapSize {
		return nil, nil
	}

	return &domain.Gap{
		ID:               uuid.NewString(),
		Symbol:           c2.Symbol,
		Timeframe:        c2.Timeframe,
		Kind:             kind,
		Top:              top,
		Bottom:           bottom,
		Size:             size,
		FormationTime:    c3.OpenTime,
		FormationCandles: window,
		Status:           domain.GapActive,
	}, nil
}

// DetectAll slides Detect over every length-3 window of the candle slice.
// Windows containing malformed candles are skipped.
func (d *Detector) DetectAll(candles []domain.Candle) []domain.Gap {
	if len(candles) < 3 {
		return nil
	}
	var gaps []domain.Gap
	for i := 0; i+2 < len(candles); i++ {
		gap, err := d.Detect([3]domain.Candle{candles[i], candles[i+1], candles[i+2]})
		if err != nil || gap == nil {
			continue
		}
		gaps = append(gaps, *gap)
	}
	return gaps
}
