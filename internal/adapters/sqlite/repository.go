package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fvgbot/internal/domain"
	"fvgbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.OutcomeRepository using SQLite. It archives
// detected gaps with their derived features and the terminal outcomes of
// live orders for later model training.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/fvgbot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection, WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally, but the Go driver benefits
	// from limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS gaps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		gap_id TEXT NOT NULL UNIQUE,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		kind TEXT NOT NULL,
		top REAL NOT NULL,
		bottom REAL NOT NULL,
		size REAL NOT NULL,
		formation_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		quality_score REAL NOT NULL,
		quality_level TEXT NOT NULL,
		size_score REAL NOT NULL,
		structure_score REAL NOT NULL,
		context_score REAL NOT NULL,
		volume_score REAL NOT NULL,
		confluence_strength REAL NOT NULL,
		recorded_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS order_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket INTEGER NOT NULL,
		gap_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		state TEXT NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		volume REAL NOT NULL,
		fill_price REAL NOT NULL,
		risk_reward REAL NOT NULL,
		confidence REAL NOT NULL,
		submitted_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP NOT NULL,
		time_to_fill_ms INTEGER NOT NULL
	);
	-- Indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_gaps_symbol_timeframe ON gaps (symbol, timeframe);
	CREATE INDEX IF NOT EXISTS idx_order_outcomes_ticket ON order_outcomes (ticket);
	CREATE INDEX IF NOT EXISTS idx_order_outcomes_symbol_resolved ON order_outcomes (symbol, resolved_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// RecordGap saves a detected gap with its derived features and returns
// the assigned record ID.
func (r *Repository) RecordGap(ctx context.Context, gap *domain.Gap, features domain.GapFeatures) (int64, error) {
	const query = `
	INSERT INTO gaps (gap_id, symbol, timeframe, kind, top, bottom, size, formation_time, status,
		quality_score, quality_level, size_score, structure_score, context_score, volume_score,
		confluence_strength, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		gap.ID, gap.Symbol, string(gap.Timeframe), string(gap.Kind), gap.Top, gap.Bottom, gap.Size,
		gap.FormationTime, string(gap.Status),
		features.QualityScore, features.QualityLevel, features.SizeScore, features.StructureScore,
		features.ContextScore, features.VolumeScore, features.ConfluenceStrength, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert gap %s: %v", ports.ErrQueryFailed, gap.ID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get gap insert ID: %v", ports.ErrQueryFailed, err)
	}
	return id, nil
}

// RecordOutcome saves the terminal outcome of a live order.
func (r *Repository) RecordOutcome(ctx context.Context, outcome domain.OrderOutcome) error {
	const query = `
	INSERT INTO order_outcomes (ticket, gap_id, symbol, side, state, entry_price, stop_loss,
		take_profit, volume, fill_price, risk_reward, confidence, submitted_at, resolved_at, time_to_fill_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		outcome.Ticket, outcome.GapID, outcome.Symbol, string(outcome.Side), string(outcome.State),
		outcome.EntryPrice, outcome.StopLoss, outcome.TakeProfit, outcome.Volume, outcome.FillPrice,
		outcome.RiskReward, outcome.Confidence, outcome.SubmittedAt, outcome.ResolvedAt,
		outcome.TimeToFill.Milliseconds())
	if err != nil {
		return fmt.Errorf("%w: failed to insert outcome for ticket %d: %v", ports.ErrQueryFailed, outcome.Ticket, err)
	}
	return nil
}

// HasOutcome reports whether a terminal outcome was already archived for
// the ticket. Used during restart recovery.
func (r *Repository) HasOutcome(ctx context.Context, ticket int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM order_outcomes WHERE ticket = ?)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, ticket).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: failed to check outcome for ticket %d: %v", ports.ErrQueryFailed, ticket, err)
	}
	return exists, nil
}
