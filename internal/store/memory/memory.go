// Package memory provides an in-memory Storage backend. It is the
// reference implementation, used for testing and single-process
// deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jobforge/jobforge/internal/models"
	"github.com/jobforge/jobforge/internal/store"
)

// Storage implements store.Storage with process-local maps. All
// operations are guarded by a single mutex, which gives the atomicity
// the contract requires.
type Storage struct {
	mu       sync.Mutex
	builds   map[int64]*models.Build
	progress map[int64]map[string]*models.ProgressEntry
	logs     map[int64][]*models.LogEntry
	nextID   int64
}

// New returns an empty in-memory storage.
func New() *Storage {
	return &Storage{
		builds:   make(map[int64]*models.Build),
		progress: make(map[int64]map[string]*models.ProgressEntry),
		logs:     make(map[int64][]*models.LogEntry),
		nextID:   1,
	}
}

// CreateBuild creates a build in the created state. The job
// configuration is deep-copied so later job edits do not leak into the
// snapshot.
func (s *Storage) CreateBuild(ctx context.Context, jobID string, jobConfig *models.Job, buildConfig models.BuildConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	s.builds[id] = &models.Build{
		ID:        id,
		JobID:     jobID,
		JobConfig: jobConfig.Clone(),
		Config:    buildConfig.Clone(),
	}
	return id, nil
}

// GetBuild retrieves a build by id.
func (s *Storage) GetBuild(ctx context.Context, buildID int64) (*models.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	build, ok := s.builds[buildID]
	if !ok {
		return nil, fmt.Errorf("build %d: %w", buildID, store.ErrNotFound)
	}
	return build.Clone(), nil
}

// DeleteBuild removes a build with its progress and log records.
func (s *Storage) DeleteBuild(ctx context.Context, buildID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.builds, buildID)
	delete(s.progress, buildID)
	delete(s.logs, buildID)
	return nil
}

// StartBuild marks a build started.
func (s *Storage) StartBuild(ctx context.Context, buildID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	build, ok := s.builds[buildID]
	if !ok {
		return fmt.Errorf("build %d: %w", buildID, store.ErrNotFound)
	}
	now := time.Now().UTC()
	build.Started = true
	build.StartTime = &now
	return nil
}

// FinishBuild records a build's terminal outcome.
func (s *Storage) FinishBuild(ctx context.Context, buildID int64, result store.FinishResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	build, ok := s.builds[buildID]
	if !ok {
		return fmt.Errorf("build %d: %w", buildID, store.ErrNotFound)
	}
	now := time.Now().UTC()
	build.Finished = true
	build.EndTime = &now
	build.Success = result.Success
	build.Skipped = result.Skipped
	build.Retval = result.Retval
	build.Exception = result.Exception
	build.ExceptionTrace = result.ExceptionTrace
	return nil
}

// GetJobBuilds lists a job's builds sorted by id.
func (s *Storage) GetJobBuilds(ctx context.Context, jobID string, filters store.BuildFilters, order store.Order, limit int) ([]*models.Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.Build
	for _, build := range s.builds {
		if build.JobID != jobID {
			continue
		}
		if !matchBuild(build, filters) {
			continue
		}
		matched = append(matched, build)
	}

	sort.Slice(matched, func(i, j int) bool {
		if order == store.OrderDesc {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].ID < matched[j].ID
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*models.Build, len(matched))
	for i, build := range matched {
		out[i] = build.Clone()
	}
	return out, nil
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

// ReportBuildProgress upserts the progress entry keyed by
// (buildID, groupPath).
func (s *Storage) ReportBuildProgress(ctx context.Context, buildID int64, current, total int, groupPath []string, statusLine string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.builds[buildID]; !ok {
		return fmt.Errorf("build %d: %w", buildID, store.ErrNotFound)
	}

	entries := s.progress[buildID]
	if entries == nil {
		entries = make(map[string]*models.ProgressEntry)
		s.progress[buildID] = entries
	}

	entries[groupKey(groupPath)] = &models.ProgressEntry{
		BuildID:    buildID,
		GroupPath:  append([]string(nil), groupPath...),
		Current:    current,
		Total:      total,
		StatusLine: statusLine,
	}
	return nil
}

// GetBuildProgress returns all progress entries for a build.
func (s *Storage) GetBuildProgress(ctx context.Context, buildID int64) ([]*models.ProgressEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.progress[buildID]))
	for key := range s.progress[buildID] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]*models.ProgressEntry, 0, len(keys))
	for _, key := range keys {
		entry := *s.progress[buildID][key]
		entry.GroupPath = append([]string(nil), entry.GroupPath...)
		out = append(out, &entry)
	}
	return out, nil
}

// LogMessage appends a log record to a build.
func (s *Storage) LogMessage(ctx context.Context, entry *models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *entry
	s.logs[entry.BuildID] = append(s.logs[entry.BuildID], &copied)
	return nil
}

// PruneLogMessages deletes log records matching the filters.
func (s *Storage) PruneLogMessages(ctx context.Context, filters store.LogPruneFilters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cutoff time.Time
	if filters.MaxAge > 0 {
		cutoff = time.Now().UTC().Add(-filters.MaxAge)
	}

	for buildID, entries := range s.logs {
		if filters.BuildID != nil && buildID != *filters.BuildID {
			continue
		}
		kept := entries[:0]
		for _, entry := range entries {
			if pruneMatches(entry, filters, cutoff) {
				continue
			}
			kept = append(kept, entry)
		}
		s.logs[buildID] = kept
	}
	return nil
}

// IterLogMessages lists log records matching the query, ordered by
// timestamp.
func (s *Storage) IterLogMessages(ctx context.Context, query store.LogQuery) ([]*models.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.LogEntry
	for buildID, entries := range s.logs {
		if query.BuildID != nil && buildID != *query.BuildID {
			continue
		}
		for _, entry := range entries {
			if query.MinDate != nil && entry.Timestamp.Before(*query.MinDate) {
				continue
			}
			if query.MaxDate != nil && entry.Timestamp.After(*query.MaxDate) {
				continue
			}
			if query.MinLevel != nil && entry.Level < *query.MinLevel {
				continue
			}
			copied := *entry
			out = append(out, &copied)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (s *Storage) Close() error { return nil }

func matchBuild(build *models.Build, filters store.BuildFilters) bool {
	if filters.Started != nil && build.Started != *filters.Started {
		return false
	}
	if filters.Finished != nil && build.Finished != *filters.Finished {
		return false
	}
	if filters.Success != nil && build.Success != *filters.Success {
		return false
	}
	if filters.Skipped != nil && build.Skipped != *filters.Skipped {
		return false
	}
	return true
}

func pruneMatches(entry *models.LogEntry, filters store.LogPruneFilters, cutoff time.Time) bool {
	if filters.MaxAge > 0 && !entry.Timestamp.Before(cutoff) {
		return false
	}
	if filters.Level != nil && entry.Level > *filters.Level {
		return false
	}
	return true
}

func groupKey(path []string) string {
	return strings.Join(path, "::")
}
