// Package postgres provides a PostgreSQL implementation of the
// storage contract.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(dsn string) *Config {
	return &Config{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// Storage implements store.Storage using PostgreSQL.
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

// New connects to PostgreSQL and returns a Storage.
func New(cfg *Config, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL database")
	return &Storage{db: db, logger: logger}, nil
}

// NewFromDB wraps an existing database handle. Used by tests.
func NewFromDB(db *sql.DB, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{db: db, logger: logger}
}

// Install creates the backend's tables if they do not exist.
func (s *Storage) Install(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobforge_builds (
			id BIGSERIAL PRIMARY KEY,
			job_id TEXT NOT NULL,
			start_time TIMESTAMPTZ,
			end_time TIMESTAMPTZ,
			started BOOLEAN NOT NULL DEFAULT false,
			finished BOOLEAN NOT NULL DEFAULT false,
			success BOOLEAN NOT NULL DEFAULT false,
			skipped BOOLEAN NOT NULL DEFAULT false,
			job_config JSONB NOT NULL,
			build_config JSONB NOT NULL,
			retval JSONB,
			exception TEXT,
			exception_trace TEXT
		);
		CREATE INDEX IF NOT EXISTS jobforge_builds_job_id_idx
			ON jobforge_builds (job_id, id);

		CREATE TABLE IF NOT EXISTS jobforge_build_progress (
			build_id BIGINT NOT NULL REFERENCES jobforge_builds(id) ON DELETE CASCADE,
			group_path TEXT[] NOT NULL DEFAULT '{}',
			current INTEGER NOT NULL,
			total INTEGER NOT NULL,
			status_line TEXT NOT NULL DEFAULT '',
			UNIQUE (build_id, group_path)
		);

		CREATE TABLE IF NOT EXISTS jobforge_logs (
			id UUID PRIMARY KEY,
			build_id BIGINT NOT NULL REFERENCES jobforge_builds(id) ON DELETE CASCADE,
			job_id TEXT NOT NULL,
			created TIMESTAMPTZ NOT NULL,
			level INTEGER NOT NULL,
			message TEXT NOT NULL,
			attrs JSONB,
			error_trace TEXT
		);
		CREATE INDEX IF NOT EXISTS jobforge_logs_build_id_idx
			ON jobforge_logs (build_id, created);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Uninstall drops the backend's tables.
func (s *Storage) Uninstall(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DROP TABLE IF EXISTS jobforge_logs;
		DROP TABLE IF EXISTS jobforge_build_progress;
		DROP TABLE IF EXISTS jobforge_builds;
	`)
	if err != nil {
		return fmt.Errorf("dropping schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}
