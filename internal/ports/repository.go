package ports

import (
	"context"

	"fvgbot/internal/domain"
)

// OutcomeRepository archives detected gaps and resolved order outcomes for
// later model training. The core is write-mostly: the only read is the
// archived-ticket check used during restart recovery.
type OutcomeRepository interface {
	// RecordGap saves a detected gap with its derived features and returns
	// the assigned record ID.
	RecordGap(ctx context.Context, gap *domain.Gap, features domain.GapFeatures) (int64, error)

	// RecordOutcome saves the terminal outcome of a live order.
	RecordOutcome(ctx context.Context, outcome domain.OrderOutcome) error

	// HasOutcome reports whether a terminal outcome was already archived
	// for the ticket. Used to avoid re-adopting resolved orders on restart.
	HasOutcome(ctx context.Context, ticket int64) (bool, error)
}
