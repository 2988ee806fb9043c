package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jobforge/jobforge/internal/models"
	"github.com/jobforge/jobforge/internal/store"
)

const buildColumns = `id, job_id, start_time, end_time, started, finished,
	success, skipped, job_config, build_config, retval, exception, exception_trace`

// CreateBuild creates a build in the created state, snapshotting the
// job configuration, and returns its id.
func (s *Storage) CreateBuild(ctx context.Context, jobID string, jobConfig *models.Job, buildConfig models.BuildConfig) (int64, error) {
	jobJSON, err := json.Marshal(jobConfig)
	if err != nil {
		return 0, fmt.Errorf("serializing job config: %w", err)
	}
	buildJSON, err := json.Marshal(buildConfig)
	if err != nil {
		return 0, fmt.Errorf("serializing build config: %w", err)
	}

	query := `
		INSERT INTO jobforge_builds (job_id, job_config, build_config)
		VALUES ($1, $2, $3)
		RETURNING id`

	var id int64
	if err := s.db.QueryRowContext(ctx, query, jobID, jobJSON, buildJSON).Scan(&id); err != nil {
		return 0, fmt.Errorf("inserting build: %w", err)
	}
	return id, nil
}

// GetBuild retrieves a build by id.
func (s *Storage) GetBuild(ctx context.Context, buildID int64) (*models.Build, error) {
	query := `SELECT ` + buildColumns + ` FROM jobforge_builds WHERE id = $1`

	build, err := scanBuild(s.db.QueryRowContext(ctx, query, buildID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("build %d: %w", buildID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("querying build: %w", err)
	}
	return build, nil
}

// DeleteBuild removes a build; progress and log records cascade.
func (s *Storage) DeleteBuild(ctx context.Context, buildID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobforge_builds WHERE id = $1`, buildID); err != nil {
		return fmt.Errorf("deleting build: %w", err)
	}
	return nil
}

// StartBuild marks a build started and records its start time.
func (s *Storage) StartBuild(ctx context.Context, buildID int64) error {
	query := `
		UPDATE jobforge_builds
		SET started = true, start_time = NOW()
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, buildID)
	if err != nil {
		return fmt.Errorf("starting build: %w", err)
	}
	return requireRow(result, buildID)
}

// FinishBuild marks a build finished and records its outcome. If the
// result value cannot be serialized the build is finished as failed
// with a placeholder exception, never left running.
func (s *Storage) FinishBuild(ctx context.Context, buildID int64, result store.FinishResult) error {
	var retvalJSON []byte
	if result.Success && !result.Skipped && result.Retval != nil {
		data, err := json.Marshal(result.Retval)
		if err != nil {
			s.logger.Error("failed to serialize build return value",
				"build_id", buildID,
				"error", err,
			)
			result = store.FinishResult{
				Success:   false,
				Exception: fmt.Sprintf("serializing return value: %v", err),
			}
		} else {
			retvalJSON = data
		}
	}

	query := `
		UPDATE jobforge_builds
		SET finished = true, end_time = NOW(),
			success = $2, skipped = $3, retval = $4,
			exception = $5, exception_trace = $6
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, buildID,
		result.Success, result.Skipped, nullBytes(retvalJSON),
		nullString(result.Exception), nullString(result.ExceptionTrace))
	if err != nil {
		return fmt.Errorf("finishing build: %w", err)
	}
	return requireRow(res, buildID)
}

// GetJobBuilds lists a job's builds sorted by id.
func (s *Storage) GetJobBuilds(ctx context.Context, jobID string, filters store.BuildFilters, order store.Order, limit int) ([]*models.Build, error) {
	query := `SELECT ` + buildColumns + ` FROM jobforge_builds WHERE job_id = $1`
	params := []any{jobID}

	for _, f := range []struct {
		column string
		value  *bool
	}{
		{"started", filters.Started},
		{"finished", filters.Finished},
		{"success", filters.Success},
		{"skipped", filters.Skipped},
	} {
		if f.value != nil {
			params = append(params, *f.value)
			query += " AND " + f.column + " = $" + strconv.Itoa(len(params))
		}
	}

	if order == store.OrderDesc {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id ASC"
	}

	if limit > 0 {
		params = append(params, limit)
		query += " LIMIT $" + strconv.Itoa(len(params))
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("querying job builds: %w", err)
	}
	defer rows.Close()

	var builds []*models.Build
	for rows.Next() {
		build, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build row: %w", err)
		}
		builds = append(builds, build)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating build rows: %w", err)
	}
	return builds, nil
}

// GetLatestSuccessfulBuild returns the newest finished, successful,
// non-skipped build for a job.
func (s *Storage) GetLatestSuccessfulBuild(ctx context.Context, jobID string) (*models.Build, error) {
	builds, err := s.GetJobBuilds(ctx, jobID, store.BuildFilters{
		Started:  store.Bool(true),
		Finished: store.Bool(true),
		Success:  store.Bool(true),
		Skipped:  store.Bool(false),
	}, store.OrderDesc, 1)
	if err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, fmt.Errorf("no successful build for job %q: %w", jobID, store.ErrNotFound)
	}
	return builds[0], nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*models.Build, error) {
	build := &models.Build{}
	var startTime, endTime sql.NullTime
	var jobJSON, buildJSON []byte
	var retvalJSON []byte
	var exception, exceptionTrace sql.NullString

	err := row.Scan(
		&build.ID,
		&build.JobID,
		&startTime,
		&endTime,
		&build.Started,
		&build.Finished,
		&build.Success,
		&build.Skipped,
		&jobJSON,
		&buildJSON,
		&retvalJSON,
		&exception,
		&exceptionTrace,
	)
	if err != nil {
		return nil, err
	}

	if startTime.Valid {
		build.StartTime = &startTime.Time
	}
	if endTime.Valid {
		build.EndTime = &endTime.Time
	}
	if exception.Valid {
		build.Exception = exception.String
	}
	if exceptionTrace.Valid {
		build.ExceptionTrace = exceptionTrace.String
	}

	if err := json.Unmarshal(jobJSON, &build.JobConfig); err != nil {
		return nil, fmt.Errorf("deserializing job config: %w", err)
	}
	if err := json.Unmarshal(buildJSON, &build.Config); err != nil {
		return nil, fmt.Errorf("deserializing build config: %w", err)
	}
	if len(retvalJSON) > 0 {
		if err := json.Unmarshal(retvalJSON, &build.Retval); err != nil {
			return nil, fmt.Errorf("deserializing return value: %w", err)
		}
	}

	return build, nil
}

func requireRow(result sql.Result, buildID int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("build %d: %w", buildID, store.ErrNotFound)
	}
	return nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullBytes(v []byte) any {
	if len(v) == 0 {
		return nil
	}
	return v
}
