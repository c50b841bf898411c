package quality

import (
	"fmt"

	"fvgbot/internal/domain"
	"fvgbot/internal/ports"
)

// Level is the qualitative band of a quality score.
type Level string

const (
	Excellent Level = "excellent"
	Good      Level = "good"
	Fair      Level = "fair"
	Low       Level = "low"
	VeryLow   Level = "very_low"
)

// LevelFor maps a score to its band.
func LevelFor(score float64) Level {
	switch {
	case score >= 8.5:
		return Excellent
	case score >= 7.0:
		return Good
	case score >= 5.5:
		return Fair
	case score >= 4.0:
		return Low
	default:
		return VeryLow
	}
}

// MarketContext carries the normalized market inputs of the context score.
// Each input is in [0,1]; nil inputs degrade to the neutral 0.5 default
// rather than erroring.
type MarketContext struct {
	TrendAlignment *float64 // Alignment of the prevailing trend with the gap direction
	SRProximity    *float64 // Proximity to a recent support/resistance level
	Momentum       *float64 // Strength of recent price momentum
}

// VolumeContext carries the volume inputs. A zero AverageVolume means
// volume data is absent and the volume score degrades to neutral.
type VolumeContext struct {
	ImpulseVolume float64 // Volume of the gap's impulse candle
	AverageVolume float64 // Average volume over the recent lookback
}

// Breakdown exposes the individual weighted terms for archival.
type Breakdown struct {
	SizeScore      float64
	StructureScore float64
	ContextScore   float64
	VolumeScore    float64
}

// Result is the scored quality of a gap.
type Result struct {
	Score     float64
	Level     Level
	Breakdown Breakdown
}

// Weights are the term weights of the composite quality score. The
// defaults are empirically chosen in the original system and are kept
// configurable pending calibration.
type Weights struct {
	Size      float64
	Structure float64
	Context   float64
	Volume    float64
}

// DefaultWeights returns the carried-over weighting 0.2/0.3/0.3/0.2.
func DefaultWeights() Weights {
	return Weights{Size: 0.2, Structure: 0.3, Context: 0.3, Volume: 0.2}
}

// Config holds scorer parameters.
type Config struct {
	Weights Weights
	PipSize float64 // Price units per pip; the size bands are pip-denominated
}

// Scorer maps a gap plus market and volume context to a 0-10 quality
// score. Scoring is a pure function and never fails: missing inputs
// degrade to neutral defaults.
type Scorer struct {
	cfg Config
}

// New creates a quality scorer, validating the weight and pip domain.
func New(cfg Config) (*Scorer, error) {
	w := cfg.Weights
	if w.Size < 0 || w.Structure < 0 || w.Context < 0 || w.Volume < 0 {
		return nil, fmt.Errorf("%w: quality weights must be non-negative", ports.ErrConfigurationError)
	}
	if w.Size+w.Structure+w.Context+w.Volume == 0 {
		cfg.Weights = DefaultWeights()
	}
	if cfg.PipSize <= 0 {
		return nil, fmt.Errorf("%w: PipSize must be positive", ports.ErrConfigurationError)
	}
	return &Scorer{cfg: cfg}, nil
}

// Score computes the composite quality of a gap. The result is guaranteed
// to be in [0,10] for inputs within their declared domains.
func (s *Scorer) Score(gap *domain.Gap, market MarketContext, volume VolumeContext) Result {
	b := Breakdown{
		SizeScore:      sizeScore(gap.Size / s.cfg.PipSize),
		StructureScore: structureScore(gap.ImpulseCandle().BodyRatio()),
		ContextScore:   contextScore(market),
		VolumeScore:    volumeScore(volume),
	}
	w := s.cfg.Weights
	score := w.Size*b.SizeScore + w.Structure*b.StructureScore + w.Context*b.ContextScore + w.Volume*b.VolumeScore
	return Result{Score: score, Level: LevelFor(score), Breakdown: b}
}

// sizeScore bands the gap size in pips.
func sizeScore(pips float64) float64 {
	switch {
	case pips >= 10:
		return 10
	case pips >= 5:
		return 8
	case pips >= 2:
		return 6
	case pips >= 1:
		return 4
	default:
		return 2
	}
}

// structureScore bands the impulse candle's body/range ratio.
func structureScore(bodyRatio float64) float64 {
	switch {
	case bodyRatio >= 0.8:
		return 9
	case bodyRatio >= 0.6:
		return 7
	case bodyRatio >= 0.4:
		return 5
	default:
		return 3
	}
}

// contextScore averages the three normalized market inputs, substituting
// the neutral 0.5 for any absent input, and scales to [0,10].
func contextScore(market MarketContext) float64 {
	sum := orNeutral(market.TrendAlignment) + orNeutral(market.SRProximity) + orNeutral(market.Momentum)
	return 10 * sum / 3
}

func orNeutral(v *float64) float64 {
	if v == nil {
		return 0.5
	}
	return *v
}

// volumeScore bands the impulse-to-average volume ratio; absent volume
// data scores the neutral 5.
func volumeScore(volume VolumeContext) float64 {
	if volume.AverageVolume <= 0 {
		return 5
	}
	ratio := volume.ImpulseVolume / volume.AverageVolume
	switch {
	case ratio >= 2.0:
		return 9
	case ratio >= 1.5:
		return 7
	case ratio >= 1.0:
		return 5
	default:
		return 3
	}
}
