package analysis

import (
	"math"

	"fvgbot/internal/domain"
	"fvgbot/internal/quality"
)

// ContextBuilder derives the market and volume context inputs of the
// quality scorer from recent candle history. All derivation is bounded
// arithmetic over the caller's snapshot; missing or short history simply
// produces absent inputs, which the scorer treats as neutral.
type ContextBuilder struct {
	shortMAPeriod int
	longMAPeriod  int
	volumePeriod  int
	swingLookback int
}

// NewContextBuilder creates a builder with sane defaults for any
// non-positive period.
func NewContextBuilder(shortMA, longMA, volumePeriod, swingLookback int) *ContextBuilder {
	if shortMA <= 0 {
		shortMA = 10
	}
	if longMA <= shortMA {
		longMA = shortMA * 3
	}
	if volumePeriod <= 0 {
		volumePeriod = 20
	}
	if swingLookback <= 0 {
		swingLookback = 20
	}
	return &ContextBuilder{
		shortMAPeriod: shortMA,
		longMAPeriod:  longMA,
		volumePeriod:  volumePeriod,
		swingLookback: swingLookback,
	}
}

// Market derives the normalized market context for a gap from the candles
// that preceded and include its formation window.
func (b *ContextBuilder) Market(candles []domain.Candle, kind domain.GapKind) quality.MarketContext {
	var ctx quality.MarketContext
	if trend, ok := b.trendAlignment(candles, kind); ok {
		ctx.TrendAlignment = &trend
	}
	if prox, ok := b.srProximity(candles); ok {
		ctx.SRProximity = &prox
	}
	if mom, ok := b.momentum(candles, kind); ok {
		ctx.Momentum = &mom
	}
	return ctx
}

// Volume derives the volume context for a gap's impulse candle.
func (b *ContextBuilder) Volume(candles []domain.Candle, impulse domain.Candle) quality.VolumeContext {
	if len(candles) < b.volumePeriod {
		return quality.VolumeContext{ImpulseVolume: impulse.Volume}
	}
	sum := 0.0
	for _, c := range candles[len(candles)-b.volumePeriod:] {
		sum += c.Volume
	}
	return quality.VolumeContext{
		ImpulseVolume: impulse.Volume,
		AverageVolume: sum / float64(b.volumePeriod),
	}
}

// trendAlignment compares a short and long close SMA: 1.0 when the MA
// slope agrees with the gap direction, scaling down to 0 when it opposes.
func (b *ContextBuilder) trendAlignment(candles []domain.Candle, kind domain.GapKind) (float64, bool) {
	if len(candles) < b.longMAPeriod {
		return 0, false
	}
	shortMA := smaClose(candles, b.shortMAPeriod)
	longMA := smaClose(candles, b.longMAPeriod)
	if longMA == 0 {
		return 0, false
	}
	// Relative separation of the MAs, clamped to +-1 at a 1% spread.
	spread := (shortMA - longMA) / longMA
	aligned := spread / 0.01
	if kind == domain.Bearish {
		aligned = -aligned
	}
	return clamp01(0.5 + aligned/2), true
}

// srProximity scores how close the last close sits to the nearest recent
// swing extreme: 1.0 at the level, falling off with distance.
func (b *ContextBuilder) srProximity(candles []domain.Candle) (float64, bool) {
	if len(candles) < b.swingLookback {
		return 0, false
	}
	window := candles[len(candles)-b.swingLookback:]
	high, low := window[0].High, window[0].Low
	for _, c := range window[1:] {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	span := high - low
	if span <= 0 {
		return 0, false
	}
	last := window[len(window)-1].Close
	distance := math.Min(high-last, last-low) / span
	// distance is 0 at either extreme and 0.5 mid-range.
	return clamp01(1 - 2*distance), true
}

// momentum scores the close-to-close rate of change over the short
// period in the gap's direction.
func (b *ContextBuilder) momentum(candles []domain.Candle, kind domain.GapKind) (float64, bool) {
	if len(candles) < b.shortMAPeriod+1 {
		return 0, false
	}
	prev := candles[len(candles)-1-b.shortMAPeriod].Close
	last := candles[len(candles)-1].Close
	if prev == 0 {
		return 0, false
	}
	// Clamp to +-1 at a 2% move over the period.
	roc := (last - prev) / prev / 0.02
	if kind == domain.Bearish {
		roc = -roc
	}
	return clamp01(0.5 + roc/2), true
}

func smaClose(candles []domain.Candle, period int) float64 {
	sum := 0.0
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	return sum / float64(period)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
