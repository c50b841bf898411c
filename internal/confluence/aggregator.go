package confluence

import (
	"fmt"
	"math"
	"sort"
	"time"

	"fvgbot/internal/domain"
	"fvgbot/internal/ports"
)

// Weights are the term weights of the confluence strength formula.
// The defaults are empirically chosen in the original system and are kept
// configurable pending calibration.
type Weights struct {
	Time      float64
	Price     float64
	Direction float64
	Size      float64
}

// DefaultWeights returns the carried-over weighting 0.3/0.4/0.2/0.1.
func DefaultWeights() Weights {
	return Weights{Time: 0.3, Price: 0.4, Direction: 0.2, Size: 0.1}
}

// Config holds aggregator parameters.
type Config struct {
	Threshold float64 // Minimum strength to retain a confluence
	Weights   Weights
}

// Aggregator computes pairwise cross-timeframe confluence between Active
// gaps of one symbol. It holds no mutable state; aggregation cycles over
// different symbols may run in parallel with separate snapshots.
type Aggregator struct {
	cfg Config
}

// New creates an aggregator, validating the threshold and weight domain.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Threshold < 0 || cfg.Threshold > 10 {
		return nil, fmt.Errorf("%w: confluence threshold must be in [0, 10]", ports.ErrConfigurationError)
	}
	w := cfg.Weights
	if w.Time < 0 || w.Price < 0 || w.Direction < 0 || w.Size < 0 {
		return nil, fmt.Errorf("%w: confluence weights must be non-negative", ports.ErrConfigurationError)
	}
	if w.Time+w.Price+w.Direction+w.Size == 0 {
		cfg.Weights = DefaultWeights()
	}
	return &Aggregator{cfg: cfg}, nil
}

// Aggregate scores every pair of Active gaps across every unordered pair
// of distinct timeframes and returns the confluences at or above the
// threshold, strongest first. Ties break by larger combined gap size,
// then earlier formation time. Timeframes with no Active gaps simply do
// not pair.
func (a *Aggregator) Aggregate(gapsByTimeframe map[domain.Timeframe][]*domain.Gap) []domain.Confluence {
	timeframes := make([]domain.Timeframe, 0, len(gapsByTimeframe))
	for tf := range gapsByTimeframe {
		timeframes = append(timeframes, tf)
	}
	// Deterministic pairing order regardless of map iteration.
	sort.Slice(timeframes, func(i, j int) bool {
		return timeframes[i].Duration() < timeframes[j].Duration()
	})

	var out []domain.Confluence
	for i := 0; i < len(timeframes); i++ {
		for j := i + 1; j < len(timeframes); j++ {
			tfA, tfB := timeframes[i], timeframes[j]
			for _, gapA := range gapsByTimeframe[tfA] {
				if !gapA.IsActive() {
					continue
				}
				for _, gapB := range gapsByTimeframe[tfB] {
					if !gapB.IsActive() {
						continue
					}
					strength := a.Strength(gapA, gapB)
					if strength < a.cfg.Threshold {
						continue
					}
					out = append(out, domain.Confluence{
						GapA:           gapA,
						GapB:           gapB,
						TimeframeA:     tfA,
						TimeframeB:     tfB,
						Strength:       strength,
						DirectionMatch: gapA.Kind == gapB.Kind,
					})
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		if out[i].CombinedSize() != out[j].CombinedSize() {
			return out[i].CombinedSize() > out[j].CombinedSize()
		}
		return earliestFormation(out[i]).Before(earliestFormation(out[j]))
	})
	return out
}

// Strength computes the weighted confluence score in [0,10]. Each term is
// symmetric in its arguments, so Strength(a, b) == Strength(b, a).
func (a *Aggregator) Strength(gapA, gapB *domain.Gap) float64 {
	w := a.cfg.Weights
	return w.Time*timeOverlapScore(gapA.FormationTime, gapB.FormationTime) +
		w.Price*priceOverlapScore(gapA, gapB) +
		w.Direction*directionScore(gapA, gapB) +
		w.Size*sizeRatioScore(gapA, gapB)
}

// timeOverlapScore buckets the formation time distance.
func timeOverlapScore(a, b time.Time) float64 {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	switch {
	case d <= time.Hour:
		return 10
	case d <= 4*time.Hour:
		return 8
	case d <= 12*time.Hour:
		return 6
	case d <= 24*time.Hour:
		return 4
	case d <= 72*time.Hour:
		return 2
	default:
		return 0.5
	}
}

// priceOverlapScore scales the shared price region against the total
// spanned region: 10 for identical ranges, 0 for disjoint ones.
func priceOverlapScore(a, b *domain.Gap) float64 {
	overlap := math.Min(a.Top, b.Top) - math.Max(a.Bottom, b.Bottom)
	if overlap <= 0 {
		return 0
	}
	total := math.Max(a.Top, b.Top) - math.Min(a.Bottom, b.Bottom)
	if total <= 0 {
		return 0
	}
	return 10 * overlap / total
}

func directionScore(a, b *domain.Gap) float64 {
	if a.Kind == b.Kind {
		return 10
	}
	return 2
}

func sizeRatioScore(a, b *domain.Gap) float64 {
	larger := math.Max(a.Size, b.Size)
	if larger <= 0 {
		return 0
	}
	return 10 * math.Min(a.Size, b.Size) / larger
}

func earliestFormation(c domain.Confluence) time.Time {
	if c.GapA.FormationTime.Before(c.GapB.FormationTime) {
		return c.GapA.FormationTime
	}
	return c.GapB.FormationTime
}
