package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fvgbot/internal/domain"
)

func ptr(v float64) *float64 { return &v }

// strongGap returns a 10-pip bullish gap whose impulse candle has a 0.9
// body/range ratio.
func strongGap() *domain.Gap {
	impulse := domain.Candle{
		Symbol:    "EURUSD",
		Timeframe: domain.TF1h,
		OpenTime:  time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC),
		Open:      1.1005,
		High:      1.1024,
		Low:       1.1004,
		Close:     1.1023,
		Volume:    2400,
	}
	return &domain.Gap{
		ID:        "gap-strong",
		Symbol:    "EURUSD",
		Timeframe: domain.TF1h,
		Kind:      domain.Bullish,
		Top:       1.1020,
		Bottom:    1.1010,
		Size:      0.0010,
		FormationCandles: [3]domain.Candle{
			{}, impulse, {},
		},
		Status: domain.GapActive,
	}
}

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := New(Config{Weights: DefaultWeights(), PipSize: 0.0001})
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Weights: DefaultWeights(), PipSize: 0})
	assert.Error(t, err)
	_, err = New(Config{Weights: Weights{Size: -1}, PipSize: 0.0001})
	assert.Error(t, err)

	// All-zero weights fall back to the defaults.
	s, err := New(Config{PipSize: 0.0001})
	require.NoError(t, err)
	result := s.Score(strongGap(), MarketContext{}, VolumeContext{})
	assert.Greater(t, result.Score, 0.0)
}

func TestScorer_Score_StrongGap(t *testing.T) {
	s := newTestScorer(t)

	// All terms at their best band: size 10 (10 pips), structure 9
	// (ratio 0.9), context 10 (all inputs 1.0), volume 9 (ratio >= 2).
	// 0.2*10 + 0.3*9 + 0.3*10 + 0.2*9 = 9.5
	market := MarketContext{TrendAlignment: ptr(1.0), SRProximity: ptr(1.0), Momentum: ptr(1.0)}
	volume := VolumeContext{ImpulseVolume: 2400, AverageVolume: 1000}

	result := s.Score(strongGap(), market, volume)
	assert.InDelta(t, 9.5, result.Score, 1e-9)
	assert.Equal(t, Excellent, result.Level)
	assert.Equal(t, 10.0, result.Breakdown.SizeScore)
	assert.Equal(t, 9.0, result.Breakdown.StructureScore)
	assert.Equal(t, 10.0, result.Breakdown.ContextScore)
	assert.Equal(t, 9.0, result.Breakdown.VolumeScore)
}

func TestScorer_Score_MissingInputsDegradeToNeutral(t *testing.T) {
	s := newTestScorer(t)

	// Nil market inputs score the neutral 0.5 each (context 5) and absent
	// volume data scores the neutral 5.
	result := s.Score(strongGap(), MarketContext{}, VolumeContext{})
	assert.InDelta(t, 5.0, result.Breakdown.ContextScore, 1e-9)
	assert.InDelta(t, 5.0, result.Breakdown.VolumeScore, 1e-9)
	// 0.2*10 + 0.3*9 + 0.3*5 + 0.2*5 = 7.2
	assert.InDelta(t, 7.2, result.Score, 1e-9)
	assert.Equal(t, Good, result.Level)
}

func TestScorer_Score_Bands(t *testing.T) {
	s := newTestScorer(t)

	tests := []struct {
		name      string
		size      float64 // gap size in price units
		bodyRatio float64
		wantSize  float64
		wantStru  float64
	}{
		{name: "tiny gap weak candle", size: 0.00005, bodyRatio: 0.3, wantSize: 2, wantStru: 3},
		{name: "one pip moderate", size: 0.0001, bodyRatio: 0.45, wantSize: 4, wantStru: 5},
		{name: "two pips decent", size: 0.0002, bodyRatio: 0.65, wantSize: 6, wantStru: 7},
		{name: "five pips strong", size: 0.0005, bodyRatio: 0.85, wantSize: 8, wantStru: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gap := strongGap()
			gap.Size = tt.size
			// Reshape the impulse candle to the desired body ratio over a
			// fixed 0.0020 range.
			impulse := gap.FormationCandles[1]
			impulse.Low = 1.1000
			impulse.High = 1.1020
			impulse.Open = 1.1000
			impulse.Close = 1.1000 + tt.bodyRatio*0.0020
			gap.FormationCandles[1] = impulse

			result := s.Score(gap, MarketContext{}, VolumeContext{})
			assert.Equal(t, tt.wantSize, result.Breakdown.SizeScore)
			assert.Equal(t, tt.wantStru, result.Breakdown.StructureScore)
			assert.GreaterOrEqual(t, result.Score, 0.0)
			assert.LessOrEqual(t, result.Score, 10.0)
		})
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{score: 9.2, want: Excellent},
		{score: 8.5, want: Excellent},
		{score: 7.0, want: Good},
		{score: 5.5, want: Fair},
		{score: 4.0, want: Low},
		{score: 3.9, want: VeryLow},
		{score: 0, want: VeryLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.score), "score %.1f", tt.score)
	}
}

func TestScorer_VolumeBands(t *testing.T) {
	s := newTestScorer(t)
	gap := strongGap()

	tests := []struct {
		name   string
		volume VolumeContext
		want   float64
	}{
		{name: "double average", volume: VolumeContext{ImpulseVolume: 200, AverageVolume: 100}, want: 9},
		{name: "one and a half", volume: VolumeContext{ImpulseVolume: 150, AverageVolume: 100}, want: 7},
		{name: "average", volume: VolumeContext{ImpulseVolume: 100, AverageVolume: 100}, want: 5},
		{name: "below average", volume: VolumeContext{ImpulseVolume: 50, AverageVolume: 100}, want: 3},
		{name: "no data", volume: VolumeContext{ImpulseVolume: 50}, want: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := s.Score(gap, MarketContext{}, tt.volume)
			assert.Equal(t, tt.want, result.Breakdown.VolumeScore)
		})
	}
}
