package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/jobforge/jobforge/internal/models"
)

// ReportBuildProgress upserts the progress entry keyed by
// (buildID, groupPath).
func (s *Storage) ReportBuildProgress(ctx context.Context, buildID int64, current, total int, groupPath []string, statusLine string) error {
	if groupPath == nil {
		groupPath = []string{}
	}

	query := `
		INSERT INTO jobforge_build_progress (build_id, group_path, current, total, status_line)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (build_id, group_path)
		DO UPDATE SET current = $3, total = $4, status_line = $5`

	_, err := s.db.ExecContext(ctx, query, buildID, pq.Array(groupPath), current, total, statusLine)
	if err != nil {
		return fmt.Errorf("upserting build progress: %w", err)
	}
	return nil
}

// GetBuildProgress returns all progress entries for a build.
func (s *Storage) GetBuildProgress(ctx context.Context, buildID int64) ([]*models.ProgressEntry, error) {
	query := `
		SELECT build_id, group_path, current, total, status_line
		FROM jobforge_build_progress
		WHERE build_id = $1
		ORDER BY group_path`

	rows, err := s.db.QueryContext(ctx, query, buildID)
	if err != nil {
		return nil, fmt.Errorf("querying build progress: %w", err)
	}
	defer rows.Close()

	var entries []*models.ProgressEntry
	for rows.Next() {
		entry := &models.ProgressEntry{}
		var path pq.StringArray
		if err := rows.Scan(&entry.BuildID, &path, &entry.Current, &entry.Total, &entry.StatusLine); err != nil {
			return nil, fmt.Errorf("scanning progress row: %w", err)
		}
		if len(path) > 0 {
			entry.GroupPath = []string(path)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating progress rows: %w", err)
	}
	return entries, nil
}
