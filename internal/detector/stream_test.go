package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fvgbot/internal/domain"
)

func newTestStream(t *testing.T, cfg StreamConfig) *StreamDetector {
	t.Helper()
	det, err := New(testConfig())
	require.NoError(t, err)
	key := domain.StreamKey{Symbol: "EURUSD", Timeframe: domain.TF1h}
	stream, err := NewStream(key, det, cfg)
	require.NoError(t, err)
	return stream
}

func defaultStreamConfig() StreamConfig {
	return StreamConfig{MaxActiveGaps: 20, MaxGapAge: 72 * time.Hour}
}

func TestStreamDetector_FormsGap(t *testing.T) {
	stream := newTestStream(t, defaultStreamConfig())
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	var gap *domain.Gap
	for _, c := range bullishWindow(start) {
		var err error
		gap, _, err = stream.Push(c)
		require.NoError(t, err)
	}
	require.NotNil(t, gap)
	assert.Equal(t, domain.Bullish, gap.Kind)
	assert.Len(t, stream.ActiveGaps(), 1)
}

func TestStreamDetector_FillOnRetracement(t *testing.T) {
	stream := newTestStream(t, defaultStreamConfig())
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, c := range bullishWindow(start) {
		_, _, err := stream.Push(c)
		require.NoError(t, err)
	}
	require.Len(t, stream.ActiveGaps(), 1)
	gap := stream.ActiveGaps()[0]

	// A candle closing above the gap top leaves it active.
	_, archived, err := stream.Push(candle(1.1025, 1.1030, 1.1018, 1.1022, start.Add(3*time.Hour)))
	require.NoError(t, err)
	assert.Empty(t, archived)
	assert.Len(t, stream.ActiveGaps(), 1)

	// Price retracing to close inside the gap region fills it.
	_, archived, err = stream.Push(candle(1.1022, 1.1024, 1.1008, 1.1012, start.Add(4*time.Hour)))
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, gap.ID, archived[0].ID)
	assert.Equal(t, domain.GapFilled, archived[0].Status)
	assert.Empty(t, stream.ActiveGaps())
}

func TestStreamDetector_ExpireByAge(t *testing.T) {
	cfg := defaultStreamConfig()
	cfg.MaxGapAge = 6 * time.Hour
	stream := newTestStream(t, cfg)
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, c := range bullishWindow(start) {
		_, _, err := stream.Push(c)
		require.NoError(t, err)
	}
	require.Len(t, stream.ActiveGaps(), 1)

	// Candle well past the age limit, closing above the gap so it cannot
	// count as a fill.
	_, archived, err := stream.Push(candle(1.1025, 1.1030, 1.1020, 1.1028, start.Add(10*time.Hour)))
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, domain.GapExpired, archived[0].Status)
	assert.Empty(t, stream.ActiveGaps())
}

func TestStreamDetector_RejectsOutOfOrderCandles(t *testing.T) {
	stream := newTestStream(t, defaultStreamConfig())
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	_, _, err := stream.Push(candle(1.1000, 1.1010, 1.0995, 1.1005, start))
	require.NoError(t, err)

	// Same timestamp and an earlier timestamp are both rejected.
	_, _, err = stream.Push(candle(1.1005, 1.1010, 1.1000, 1.1008, start))
	assert.ErrorIs(t, err, domain.ErrInvalidCandle)
	_, _, err = stream.Push(candle(1.1005, 1.1010, 1.1000, 1.1008, start.Add(-time.Hour)))
	assert.ErrorIs(t, err, domain.ErrInvalidCandle)
}

func TestStreamDetector_BoundedActiveSet(t *testing.T) {
	cfg := defaultStreamConfig()
	cfg.MaxActiveGaps = 1
	stream := newTestStream(t, cfg)
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, c := range bullishWindow(start) {
		_, _, err := stream.Push(c)
		require.NoError(t, err)
	}
	first := stream.ActiveGaps()[0]

	// A second imbalance higher up; the price never re-enters the first
	// gap, so the bound forces the oldest out as expired.
	var archived []*domain.Gap
	for _, c := range [3]domain.Candle{
		candle(1.1026, 1.1036, 1.1021, 1.1031, start.Add(3*time.Hour)),
		candle(1.1031, 1.1051, 1.1029, 1.1049, start.Add(4*time.Hour)),
		candle(1.1046, 1.1056, 1.1041, 1.1051, start.Add(5*time.Hour)),
	} {
		var settled []*domain.Gap
		var err error
		_, settled, err = stream.Push(c)
		require.NoError(t, err)
		archived = append(archived, settled...)
	}

	require.Len(t, archived, 1)
	assert.Equal(t, first.ID, archived[0].ID)
	assert.Equal(t, domain.GapExpired, archived[0].Status)
	assert.Len(t, stream.ActiveGaps(), 1)
}

func TestStreamDetector_Prime(t *testing.T) {
	stream := newTestStream(t, defaultStreamConfig())
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	w := bullishWindow(start)
	history := []domain.Candle{
		candle(1.0990, 1.1002, 1.0988, 1.1000, start.Add(-time.Hour)),
		w[0], w[1], w[2],
	}
	stream.Prime(history)
	assert.Len(t, stream.ActiveGaps(), 1)

	// The stream continues seamlessly from the primed window.
	_, archived, err := stream.Push(candle(1.1022, 1.1024, 1.1008, 1.1012, start.Add(3*time.Hour)))
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, domain.GapFilled, archived[0].Status)
}
