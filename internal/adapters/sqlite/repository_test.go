package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fvgbot/internal/domain"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "fvgbot-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(tmpDir, "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func testGap() *domain.Gap {
	return &domain.Gap{
		ID:            "gap-1",
		Symbol:        "EURUSD",
		Timeframe:     domain.TF1h,
		Kind:          domain.Bullish,
		Top:           1.1015,
		Bottom:        1.1010,
		Size:          0.0005,
		FormationTime: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Status:        domain.GapActive,
	}
}

func testFeatures() domain.GapFeatures {
	return domain.GapFeatures{
		QualityScore:       7.2,
		QualityLevel:       "good",
		SizeScore:          8,
		StructureScore:     9,
		ContextScore:       5,
		VolumeScore:        5,
		ConfluenceStrength: 8.9,
	}
}

func TestRepository_RecordGap(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	id, err := repo.RecordGap(ctx, testGap(), testFeatures())
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	// gap_id is unique: archiving the same gap twice fails.
	_, err = repo.RecordGap(ctx, testGap(), testFeatures())
	assert.Error(t, err)

	// A different gap is fine.
	other := testGap()
	other.ID = "gap-2"
	id2, err := repo.RecordGap(ctx, other, testFeatures())
	require.NoError(t, err)
	assert.Greater(t, id2, id)
}

func TestRepository_RecordOutcomeAndHasOutcome(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	submitted := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	outcome := domain.OrderOutcome{
		Ticket:      1001,
		GapID:       "gap-1",
		Symbol:      "EURUSD",
		Side:        domain.Buy,
		State:       domain.OrderFilled,
		EntryPrice:  1.1010,
		StopLoss:    1.1003,
		TakeProfit:  1.1027,
		Volume:      0.018,
		FillPrice:   1.1009,
		RiskReward:  2.4,
		Confidence:  0.8,
		SubmittedAt: submitted,
		ResolvedAt:  submitted.Add(90 * time.Second),
		TimeToFill:  90 * time.Second,
	}

	exists, err := repo.HasOutcome(ctx, outcome.Ticket)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.RecordOutcome(ctx, outcome))

	exists, err = repo.HasOutcome(ctx, outcome.Ticket)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.HasOutcome(ctx, 9999)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: "ignored.db"})
	assert.Error(t, err)
}
