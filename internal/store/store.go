// Package store defines the storage contract consumed by the
// orchestration engine. Backends own persistence details; the engine
// only relies on individual operations being atomic.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jobforge/jobforge/internal/models"
)

// ErrNotFound is returned when a requested build does not exist.
var ErrNotFound = errors.New("not found")

// Order is the sort direction for build queries, always keyed on build
// id.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// BuildFilters narrows a build query. Nil fields are not filtered on.
type BuildFilters struct {
	Started  *bool
	Finished *bool
	Success  *bool
	Skipped  *bool
}

// FinishResult carries the terminal outcome of a build.
type FinishResult struct {
	Success bool
	Skipped bool
	// Retval is recorded only when Success is true and Skipped is
	// false.
	Retval any
	// Exception and ExceptionTrace are recorded only on failure.
	Exception      string
	ExceptionTrace string
}

// LogPruneFilters narrows a log prune operation. Zero fields are not
// filtered on.
type LogPruneFilters struct {
	BuildID *int64
	MaxAge  time.Duration
	// Level prunes records at or below this level.
	Level *slog.Level
}

// LogQuery narrows a log listing. Nil fields are not filtered on.
type LogQuery struct {
	BuildID  *int64
	MinDate  *time.Time
	MaxDate  *time.Time
	MinLevel *slog.Level
}

// Storage is the persistence contract for builds, progress, and logs.
// Implementations must keep each operation atomic; cross-operation
// consistency under concurrent callers is best-effort.
type Storage interface {
	// CreateBuild creates a build in the created (not started) state,
	// snapshotting the given job configuration, and returns its id.
	// Ids are assigned monotonically.
	CreateBuild(ctx context.Context, jobID string, jobConfig *models.Job, buildConfig models.BuildConfig) (int64, error)
	// GetBuild retrieves a build by id, or fails with ErrNotFound.
	GetBuild(ctx context.Context, buildID int64) (*models.Build, error)
	// DeleteBuild removes a build and its progress and log records.
	DeleteBuild(ctx context.Context, buildID int64) error
	// StartBuild marks a build started and records its start time.
	StartBuild(ctx context.Context, buildID int64) error
	// FinishBuild marks a build finished and records its outcome and
	// end time. If the result value cannot be serialized, the build
	// must still end up finished and failed, never stuck running.
	FinishBuild(ctx context.Context, buildID int64, result FinishResult) error

	// GetJobBuilds lists a job's builds sorted by build id.
	GetJobBuilds(ctx context.Context, jobID string, filters BuildFilters, order Order, limit int) ([]*models.Build, error)
	// GetLatestSuccessfulBuild returns the newest finished,
	// successful, non-skipped build for a job, or ErrNotFound.
	GetLatestSuccessfulBuild(ctx context.Context, jobID string) (*models.Build, error)

	// ReportBuildProgress upserts the progress entry keyed by
	// (buildID, groupPath).
	ReportBuildProgress(ctx context.Context, buildID int64, current, total int, groupPath []string, statusLine string) error
	// GetBuildProgress returns all progress entries for a build.
	GetBuildProgress(ctx context.Context, buildID int64) ([]*models.ProgressEntry, error)

	// LogMessage appends a log record to a build.
	LogMessage(ctx context.Context, entry *models.LogEntry) error
	// PruneLogMessages deletes log records matching the filters.
	PruneLogMessages(ctx context.Context, filters LogPruneFilters) error
	// IterLogMessages lists log records matching the query, ordered by
	// timestamp.
	IterLogMessages(ctx context.Context, query LogQuery) ([]*models.LogEntry, error)

	// Close releases backend resources.
	Close() error
}

// Bool is a convenience for building filter literals.
func Bool(v bool) *bool { return &v }
