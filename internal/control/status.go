package control

import (
	"context"
	"fmt"

	"github.com/jobforge/jobforge/internal/models"
	"github.com/jobforge/jobforge/internal/progress"
	"github.com/jobforge/jobforge/internal/runctx"
	"github.com/jobforge/jobforge/internal/store"
)

// JobStatus derives a job's state from its build history.
//
// A job with no finished build is not_built, or running when a build
// is in flight. A job whose latest finished build failed is failed.
// A successful job is outdated when a dependency finished a successful
// build more recently; otherwise it is success.
func (c *Control) JobStatus(ctx context.Context, jobID string) (models.JobState, error) {
	if _, ok := c.jobs.GetJob(jobID); !ok {
		return "", fmt.Errorf("job %q: %w", jobID, ErrJobNotFound)
	}

	finished, err := c.storage.GetJobBuilds(ctx, jobID,
		store.BuildFilters{Finished: store.Bool(true)}, store.OrderDesc, 1)
	if err != nil {
		return "", err
	}

	if len(finished) == 0 {
		running, err := c.storage.GetJobBuilds(ctx, jobID,
			store.BuildFilters{Started: store.Bool(true), Finished: store.Bool(false)},
			store.OrderDesc, 1)
		if err != nil {
			return "", err
		}
		if len(running) > 0 {
			return models.JobStateRunning, nil
		}
		return models.JobStateNotBuilt, nil
	}

	latest := finished[0]
	if !latest.Success {
		return models.JobStateFailed, nil
	}

	outdated, err := c.isOutdated(ctx, jobID, latest)
	if err != nil {
		return "", err
	}
	if outdated {
		return models.JobStateOutdated, nil
	}
	return models.JobStateSuccess, nil
}

// isOutdated reports whether any dependency has a successful build
// that finished after the job's own latest successful build.
func (c *Control) isOutdated(ctx context.Context, jobID string, latest *models.Build) (bool, error) {
	if latest.EndTime == nil {
		return false, nil
	}
	for _, dep := range c.jobs.GetJobDeps(jobID) {
		depBuild, err := c.latestSuccessful(ctx, dep)
		if err != nil {
			return false, err
		}
		if depBuild == nil || depBuild.EndTime == nil {
			continue
		}
		if depBuild.EndTime.After(*latest.EndTime) {
			return true, nil
		}
	}
	return false, nil
}

// CanBeBuilt reports whether every direct dependency of a job has a
// finished successful build. Skipped builds count.
func (c *Control) CanBeBuilt(ctx context.Context, jobID string) (bool, error) {
	job, ok := c.jobs.GetJob(jobID)
	if !ok {
		return false, fmt.Errorf("job %q: %w", jobID, ErrJobNotFound)
	}
	for _, dep := range job.Dependencies {
		builds, err := c.storage.GetJobBuilds(ctx, dep,
			store.BuildFilters{Finished: store.Bool(true), Success: store.Bool(true)},
			store.OrderDesc, 1)
		if err != nil {
			return false, err
		}
		if len(builds) == 0 {
			return false, nil
		}
	}
	return true, nil
}

// GetBuild fetches a build record.
func (c *Control) GetBuild(ctx context.Context, buildID int64) (*models.Build, error) {
	return c.storage.GetBuild(ctx, buildID)
}

// ReportProgress records a progress update for the build active on the
// calling context. Job functions call this from inside their build.
func (c *Control) ReportProgress(ctx context.Context, groupPath []string, current, total int, statusLine string) error {
	exec, err := runctx.FromContext(ctx)
	if err != nil {
		return err
	}
	return c.storage.ReportBuildProgress(ctx, exec.BuildID, current, total, groupPath, statusLine)
}

// BuildProgress assembles the stored progress rows of a build into a
// report tree rooted at the job id.
func (c *Control) BuildProgress(ctx context.Context, buildID int64) (*progress.Report, error) {
	build, err := c.storage.GetBuild(ctx, buildID)
	if err != nil {
		return nil, err
	}
	rows, err := c.storage.GetBuildProgress(ctx, buildID)
	if err != nil {
		return nil, err
	}

	entries := make([]progress.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, progress.Entry{
			Path:       row.GroupPath,
			Current:    row.Current,
			Total:      row.Total,
			StatusLine: row.StatusLine,
		})
	}
	return progress.FromTable(entries, build.JobID), nil
}
