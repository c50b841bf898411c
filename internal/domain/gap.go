package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrGapNotActive marks an attempted status transition on a gap that has
// already left the Active status. Gap status moves Active -> Filled or
// Active -> Expired exactly once.
var ErrGapNotActive = errors.New("gap is not active")

// Gap represents a fair value gap: a three-candle price imbalance leaving
// an unfilled price region between the first and third candle.
//
// Invariants: Top > Bottom and Size == Top - Bottom. A gap is created once
// by the detector and afterwards mutated only through its status
// transition; all other fields are immutable.
type Gap struct {
	ID               string
	Symbol           string
	Timeframe        Timeframe
	Kind             GapKind
	Top              float64
	Bottom           float64
	Size             float64
	FormationTime    time.Time // Open time of the third (confirming) candle
	FormationCandles [3]Candle
	Status           GapStatus
	QualityScore     *float64 // Set by the quality scorer, nil until scored

	FilledAt  *time.Time // Set when the status becomes Filled
	ExpiredAt *time.Time // Set when the status becomes Expired
}

// IsActive reports whether the gap still participates in the pipeline.
func (g *Gap) IsActive() bool { return g.Status == GapActive }

// MarkFilled transitions the gap out of Active after price traded back
// into the gap region.
func (g *Gap) MarkFilled(at time.Time) error {
	if g.Status != GapActive {
		return fmt.Errorf("%w: cannot fill gap %s in status %s", ErrGapNotActive, g.ID, g.Status)
	}
	g.Status = GapFilled
	g.FilledAt = &at
	return nil
}

// MarkExpired transitions the gap out of Active after it aged past the
// configured maximum without being revisited.
func (g *Gap) MarkExpired(at time.Time) error {
	if g.Status != GapActive {
		return fmt.Errorf("%w: cannot expire gap %s in status %s", ErrGapNotActive, g.ID, g.Status)
	}
	g.Status = GapExpired
	g.ExpiredAt = &at
	return nil
}

// Contains reports whether the price lies inside the gap region.
func (g *Gap) Contains(price float64) bool {
	return price >= g.Bottom && price <= g.Top
}

// Midpoint returns the center of the gap region.
func (g *Gap) Midpoint() float64 {
	return (g.Top + g.Bottom) / 2
}

// ImpulseCandle returns the middle candle of the formation window.
func (g *Gap) ImpulseCandle() Candle {
	return g.FormationCandles[1]
}

// GapFeatures captures the derived metrics recorded alongside a gap for
// later model training.
type GapFeatures struct {
	QualityScore       float64
	QualityLevel       string
	SizeScore          float64
	StructureScore     float64
	ContextScore       float64
	VolumeScore        float64
	ConfluenceStrength float64 // Best cross-timeframe confluence, 0 if none
}
