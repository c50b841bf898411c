package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeGap() *Gap {
	return &Gap{
		ID:            "gap-1",
		Symbol:        "ETHUSDT",
		Timeframe:     TF1h,
		Kind:          Bullish,
		Top:           1.1015,
		Bottom:        1.1010,
		Size:          0.0005,
		FormationTime: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Status:        GapActive,
	}
}

func TestGap_StatusTransitions(t *testing.T) {
	at := time.Now().UTC()

	t.Run("fill once", func(t *testing.T) {
		gap := activeGap()
		require.NoError(t, gap.MarkFilled(at))
		assert.Equal(t, GapFilled, gap.Status)
		require.NotNil(t, gap.FilledAt)

		// A second transition of any kind is refused.
		assert.ErrorIs(t, gap.MarkFilled(at), ErrGapNotActive)
		assert.ErrorIs(t, gap.MarkExpired(at), ErrGapNotActive)
	})

	t.Run("expire once", func(t *testing.T) {
		gap := activeGap()
		require.NoError(t, gap.MarkExpired(at))
		assert.Equal(t, GapExpired, gap.Status)
		require.NotNil(t, gap.ExpiredAt)
		assert.ErrorIs(t, gap.MarkFilled(at), ErrGapNotActive)
	})
}

func TestGap_Geometry(t *testing.T) {
	gap := activeGap()
	assert.True(t, gap.Contains(1.1012))
	assert.True(t, gap.Contains(gap.Top))
	assert.True(t, gap.Contains(gap.Bottom))
	assert.False(t, gap.Contains(1.1020))
	assert.InDelta(t, 1.10125, gap.Midpoint(), 1e-9)
}
