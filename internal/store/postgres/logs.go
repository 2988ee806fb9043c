package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/jobforge/jobforge/internal/models"
	"github.com/jobforge/jobforge/internal/store"
)

// LogMessage appends a log record to a build.
func (s *Storage) LogMessage(ctx context.Context, entry *models.LogEntry) error {
	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}

	var attrsJSON []byte
	if len(entry.Attrs) > 0 {
		data, err := json.Marshal(entry.Attrs)
		if err != nil {
			return fmt.Errorf("serializing log attrs: %w", err)
		}
		attrsJSON = data
	}

	query := `
		INSERT INTO jobforge_logs (id, build_id, job_id, created, level, message, attrs, error_trace)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		id, entry.BuildID, entry.JobID, entry.Timestamp,
		int(entry.Level), entry.Message, nullBytes(attrsJSON),
		nullString(entry.ErrorTrace))
	if err != nil {
		return fmt.Errorf("inserting log record: %w", err)
	}
	return nil
}

// PruneLogMessages deletes log records matching the filters.
func (s *Storage) PruneLogMessages(ctx context.Context, filters store.LogPruneFilters) error {
	query := `DELETE FROM jobforge_logs WHERE true`
	var params []any

	if filters.BuildID != nil {
		params = append(params, *filters.BuildID)
		query += " AND build_id = $" + strconv.Itoa(len(params))
	}
	if filters.MaxAge > 0 {
		params = append(params, filters.MaxAge.Seconds())
		query += " AND created <= NOW() - ($" + strconv.Itoa(len(params)) + " * INTERVAL '1 second')"
	}
	if filters.Level != nil {
		params = append(params, int(*filters.Level))
		query += " AND level <= $" + strconv.Itoa(len(params))
	}

	if _, err := s.db.ExecContext(ctx, query, params...); err != nil {
		return fmt.Errorf("pruning log records: %w", err)
	}
	return nil
}

// IterLogMessages lists log records matching the query, ordered by
// timestamp.
func (s *Storage) IterLogMessages(ctx context.Context, query store.LogQuery) ([]*models.LogEntry, error) {
	sqlQuery := `
		SELECT id, build_id, job_id, created, level, message, attrs, error_trace
		FROM jobforge_logs WHERE true`
	var params []any

	if query.BuildID != nil {
		params = append(params, *query.BuildID)
		sqlQuery += " AND build_id = $" + strconv.Itoa(len(params))
	}
	if query.MinDate != nil {
		params = append(params, *query.MinDate)
		sqlQuery += " AND created >= $" + strconv.Itoa(len(params))
	}
	if query.MaxDate != nil {
		params = append(params, *query.MaxDate)
		sqlQuery += " AND created <= $" + strconv.Itoa(len(params))
	}
	if query.MinLevel != nil {
		params = append(params, int(*query.MinLevel))
		sqlQuery += " AND level >= $" + strconv.Itoa(len(params))
	}

	sqlQuery += " ORDER BY created ASC"

	rows, err := s.db.QueryContext(ctx, sqlQuery, params...)
	if err != nil {
		return nil, fmt.Errorf("querying log records: %w", err)
	}
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		entry := &models.LogEntry{}
		var level int
		var attrsJSON []byte
		var errorTrace *string
		if err := rows.Scan(&entry.ID, &entry.BuildID, &entry.JobID,
			&entry.Timestamp, &level, &entry.Message, &attrsJSON, &errorTrace); err != nil {
			return nil, fmt.Errorf("scanning log row: %w", err)
		}
		entry.Level = slog.Level(level)
		if errorTrace != nil {
			entry.ErrorTrace = *errorTrace
		}
		if len(attrsJSON) > 0 {
			if err := json.Unmarshal(attrsJSON, &entry.Attrs); err != nil {
				return nil, fmt.Errorf("deserializing log attrs: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating log rows: %w", err)
	}
	return entries, nil
}
