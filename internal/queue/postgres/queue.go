// Package postgres provides a PostgreSQL-backed implementation of the
// build request queue.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobforge/jobforge/internal/queue"
)

// Queue implements queue.Queue using PostgreSQL. Multiple workers may
// dequeue concurrently; row locks keep each request owned by exactly
// one of them.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ queue.Queue = (*Queue)(nil)

// New creates a PostgreSQL-backed queue on an existing connection
// pool.
func New(db *sql.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, logger: logger}
}

// Install creates the queue table if it does not exist.
func (q *Queue) Install(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS jobforge_build_queue (
			id           UUID PRIMARY KEY,
			request_data JSONB NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			retry_count  INTEGER NOT NULL DEFAULT 0,
			created_at   TIMESTAMPTZ NOT NULL,
			started_at   TIMESTAMPTZ
		)`
	if _, err := q.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating queue table: %w", err)
	}
	return nil
}

// Enqueue adds a build request to the queue. The request is serialized
// to JSON for storage.
func (q *Queue) Enqueue(ctx context.Context, req *queue.BuildRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request to JSON: %w", err)
	}

	query := `
		INSERT INTO jobforge_build_queue (id, request_data, status, created_at)
		VALUES ($1, $2, 'pending', $3)`

	now := time.Now().UTC()
	if _, err := q.db.ExecContext(ctx, query, req.ID, data, now); err != nil {
		return fmt.Errorf("inserting request into queue: %w", err)
	}

	q.logger.Debug("enqueued build request", "request_id", req.ID, "job_id", req.JobID)
	return nil
}

// Dequeue retrieves and locks the oldest pending request. Uses
// SELECT FOR UPDATE SKIP LOCKED for concurrent worker safety.
func (q *Queue) Dequeue(ctx context.Context) (*queue.BuildRequest, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT id, request_data
		FROM jobforge_build_queue
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var requestID string
	var data []byte
	err = tx.QueryRowContext(ctx, selectQuery).Scan(&requestID, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, queue.ErrNoRequests
		}
		return nil, fmt.Errorf("selecting request from queue: %w", err)
	}

	updateQuery := `
		UPDATE jobforge_build_queue
		SET status = 'processing', started_at = $2
		WHERE id = $1`

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, updateQuery, requestID, now); err != nil {
		return nil, fmt.Errorf("updating request status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	var req queue.BuildRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("unmarshaling request from JSON: %w", err)
	}

	q.logger.Debug("dequeued build request", "request_id", req.ID, "job_id", req.JobID)
	return &req, nil
}

// Ack acknowledges successful processing of a request, removing it
// from the queue.
func (q *Queue) Ack(ctx context.Context, requestID string) error {
	query := `
		DELETE FROM jobforge_build_queue
		WHERE id = $1 AND status = 'processing'`

	result, err := q.db.ExecContext(ctx, query, requestID)
	if err != nil {
		return fmt.Errorf("deleting request from queue: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return queue.ErrRequestNotFound
	}

	q.logger.Debug("acknowledged build request", "request_id", requestID)
	return nil
}

// Nack marks processing of a request as failed, making it available
// for retry.
func (q *Queue) Nack(ctx context.Context, requestID string) error {
	query := `
		UPDATE jobforge_build_queue
		SET status = 'pending', started_at = NULL, retry_count = retry_count + 1
		WHERE id = $1 AND status = 'processing'`

	result, err := q.db.ExecContext(ctx, query, requestID)
	if err != nil {
		return fmt.Errorf("updating request status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return queue.ErrRequestNotFound
	}

	q.logger.Debug("nacked build request", "request_id", requestID)
	return nil
}
