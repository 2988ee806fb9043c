// Package control implements the build orchestration engine: it
// computes what must be built, runs builds in dependency order,
// records outcomes, and derives job status from build history.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/jobforge/jobforge/internal/args"
	"github.com/jobforge/jobforge/internal/depgraph"
	"github.com/jobforge/jobforge/internal/models"
	"github.com/jobforge/jobforge/internal/registry"
	"github.com/jobforge/jobforge/internal/runctx"
	"github.com/jobforge/jobforge/internal/store"
)

// Errors raised synchronously from orchestration. A build that ran and
// failed is not an error here; its outcome is recorded on the build
// record instead.
var (
	// ErrJobNotFound is returned when a referenced job does not exist.
	ErrJobNotFound = errors.New("no such job")
	// ErrMissingDependencies is returned when a required dependency
	// has no successful build and auto-building is disabled, or a
	// dependency build failed during the current pass.
	ErrMissingDependencies = errors.New("missing dependencies")
	// ErrSkipBuild is the cooperative signal job functions return to
	// mean "successful no-op". The build finishes successful and
	// skipped. Check with errors.Is.
	ErrSkipBuild = errors.New("skip build")
)

// JobSource is the read-only job configuration contract the engine
// consumes.
type JobSource interface {
	// GetJob returns the job with the given id.
	GetJob(id string) (*models.Job, bool)
	// GetJobDeps returns the ids of a job's direct dependencies.
	GetJobDeps(id string) []string
	// GetJobRevdeps returns the ids of the jobs directly depending on
	// the given job.
	GetJobRevdeps(id string) []string
	// Jobs returns all job definitions.
	Jobs() []*models.Job
}

// DependencyPolicy selects what to do when a dependency has no
// successful build.
type DependencyPolicy string

const (
	// DepsRequired fails the build request with ErrMissingDependencies.
	DepsRequired DependencyPolicy = "required"
	// DepsBuild builds the unmet dependency as part of the request.
	DepsBuild DependencyPolicy = "build"
)

// ParseDependencyPolicy parses a policy name.
func ParseDependencyPolicy(name string) (DependencyPolicy, error) {
	switch DependencyPolicy(name) {
	case DepsRequired, DepsBuild:
		return DependencyPolicy(name), nil
	case "":
		return DepsRequired, nil
	default:
		return "", fmt.Errorf("unknown dependency policy %q", name)
	}
}

// BuildOptions configures one build request.
type BuildOptions struct {
	// DependencyPolicy controls handling of dependencies without a
	// successful build. Zero value is DepsRequired.
	DependencyPolicy DependencyPolicy
	// BuildDependents cascades the request to jobs depending on every
	// job newly built in this pass.
	BuildDependents bool
}

// Control is the orchestration engine. It is safe for concurrent use
// as long as the storage backend keeps individual operations atomic;
// each build request owns its own execution-context stack.
type Control struct {
	storage  store.Storage
	jobs     JobSource
	registry registry.Registry
	logger   *slog.Logger

	// buildLog routes records emitted inside a running build to
	// storage.
	buildLog *slog.Logger
}

// New creates an orchestration engine on top of the given storage, job
// configuration, and function registry.
func New(storage store.Storage, jobs JobSource, reg registry.Registry, logger *slog.Logger) *Control {
	if logger == nil {
		logger = slog.Default()
	}
	return &Control{
		storage:  storage,
		jobs:     jobs,
		registry: reg,
		logger:   logger,
		buildLog: slog.New(NewBuildLogHandler(storage)),
	}
}

// Storage exposes the underlying storage backend.
func (c *Control) Storage() store.Storage { return c.storage }

// Jobs exposes the job configuration.
func (c *Control) Jobs() JobSource { return c.jobs }

// BuildLogger returns a logger whose records, when emitted with a
// build's context, are captured on that build's log.
func (c *Control) BuildLogger() *slog.Logger { return c.buildLog }

// BuildJob builds a job together with whatever the options require of
// its dependency closure, and returns the build id produced for the
// requested job.
//
// Dependencies that already have a successful build are not rebuilt.
// A dependency build that fails or cannot be attempted aborts the
// request with ErrMissingDependencies. Failures of the requested job's
// own function are not returned as errors; they are recorded on the
// build record.
func (c *Control) BuildJob(ctx context.Context, jobID string, opts BuildOptions) (int64, error) {
	if _, ok := c.jobs.GetJob(jobID); !ok {
		return 0, fmt.Errorf("job %q: %w", jobID, ErrJobNotFound)
	}

	// One execution-context stack per top-level request; recursive
	// calls for dependents share it.
	if runctx.StackFromContext(ctx) == nil {
		ctx = runctx.WithStack(ctx, runctx.NewStack())
	}

	graph := c.buildGraph(jobID, opts.BuildDependents)

	c.logger.Debug("resolving dependencies", "job_id", jobID)
	order, err := depgraph.Resolve(graph, jobID)
	if err != nil {
		return 0, err
	}
	c.logger.Debug("resolved build order", "job_id", jobID, "targets", len(order))

	var mainBuildID int64
	built := make(map[string]int64)
	var builtOrder []string

	for _, jid := range order {
		if jid != jobID {
			latest, err := c.latestSuccessful(ctx, jid)
			if err != nil {
				return 0, err
			}
			if latest != nil {
				c.logger.Info("dependency already built", "job_id", jid, "build_id", latest.ID)
				continue
			}
			if opts.DependencyPolicy != DepsBuild {
				return 0, fmt.Errorf("job %q has no successful build: %w", jid, ErrMissingDependencies)
			}
		}

		buildID, err := c.runBuild(ctx, jid)
		if err != nil {
			return 0, err
		}
		if jid == jobID {
			mainBuildID = buildID
		}

		build, err := c.storage.GetBuild(ctx, buildID)
		if err != nil {
			return 0, err
		}
		if build.Satisfied() {
			built[jid] = buildID
			builtOrder = append(builtOrder, jid)
		} else if jid != jobID {
			return 0, fmt.Errorf("dependency build failed: job %q, build %d: %w",
				jid, buildID, ErrMissingDependencies)
		}
	}

	if opts.BuildDependents {
		if err := c.buildDependents(ctx, built, builtOrder, opts); err != nil {
			return 0, err
		}
	}

	return mainBuildID, nil
}

// buildDependents cascades a build request to the reverse dependencies
// of every job newly built in this pass, excluding jobs the pass
// already built.
func (c *Control) buildDependents(ctx context.Context, built map[string]int64, builtOrder []string, opts BuildOptions) error {
	var revdeps []string
	seen := make(map[string]bool)
	for _, jid := range builtOrder {
		for _, rd := range c.jobs.GetJobRevdeps(jid) {
			if seen[rd] {
				continue
			}
			seen[rd] = true
			if _, ok := built[rd]; !ok {
				revdeps = append(revdeps, rd)
			}
		}
	}

	if len(revdeps) == 0 {
		return nil
	}
	c.logger.Info("building reverse dependencies", "count", len(revdeps))

	for _, rd := range revdeps {
		if _, err := c.BuildJob(ctx, rd, opts); err != nil {
			return fmt.Errorf("building dependent %q: %w", rd, err)
		}
	}
	return nil
}

// buildGraph explores the dependency graph rooted at jobID. With
// complete set, reverse dependencies of every visited job are included
// as well, so dependents end up in the closure.
func (c *Control) buildGraph(jobID string, complete bool) map[string][]string {
	graph := make(map[string][]string)
	processed := make(map[string]bool)

	var explore func(jid string)
	explore = func(jid string) {
		if processed[jid] {
			return
		}
		// Mark early: the visited-set guards shared sub-graphs, not
		// cycles. Those are caught by the resolver.
		processed[jid] = true

		deps := c.jobs.GetJobDeps(jid)
		graph[jid] = deps
		for _, dep := range deps {
			explore(dep)
		}

		if complete {
			for _, rd := range c.jobs.GetJobRevdeps(jid) {
				if _, ok := graph[rd]; !ok {
					graph[rd] = nil
				}
				if !containsString(graph[rd], jid) {
					graph[rd] = append(graph[rd], jid)
				}
				explore(rd)
			}
		}
	}

	explore(jobID)
	return graph
}

// CreateBuild creates a build for a job without running it: the job
// configuration is snapshotted and each dependency is pinned to its
// currently-latest successful build. The returned build can be
// inspected or queued before RunBuild.
func (c *Control) CreateBuild(ctx context.Context, jobID string) (int64, error) {
	job, ok := c.jobs.GetJob(jobID)
	if !ok {
		return 0, fmt.Errorf("job %q: %w", jobID, ErrJobNotFound)
	}

	pins := make(map[string]int64)
	for _, dep := range job.Dependencies {
		latest, err := c.latestSuccessful(ctx, dep)
		if err != nil {
			return 0, err
		}
		if latest != nil {
			pins[dep] = latest.ID
		}
	}

	buildID, err := c.storage.CreateBuild(ctx, jobID, job, models.BuildConfig{DependencyBuilds: pins})
	if err != nil {
		return 0, fmt.Errorf("creating build for job %q: %w", jobID, err)
	}
	return buildID, nil
}

// RunBuild executes a created build: resolves the job function and
// arguments, marks the build started, invokes the function under an
// active execution context, and records the outcome.
//
// Function- and argument-resolution failures abort before the build is
// marked started and are returned to the caller. Failures of the job
// function itself are recorded on the build and not returned.
func (c *Control) RunBuild(ctx context.Context, buildID int64) error {
	build, err := c.storage.GetBuild(ctx, buildID)
	if err != nil {
		return err
	}
	job := build.JobConfig

	fn, err := c.registry.Resolve(job.Function)
	if err != nil {
		return fmt.Errorf("resolving function %q for job %q: %w", job.Function, job.ID, err)
	}

	positional, keyword, err := args.ResolveArgs(ctx, build, c.storage)
	if err != nil {
		return fmt.Errorf("resolving arguments for build %d: %w", buildID, err)
	}

	if err := c.storage.StartBuild(ctx, buildID); err != nil {
		return fmt.Errorf("starting build %d: %w", buildID, err)
	}

	stack := runctx.StackFromContext(ctx)
	if stack == nil {
		stack = runctx.NewStack()
		ctx = runctx.WithStack(ctx, stack)
	}

	exec := &runctx.Execution{App: c, JobID: job.ID, BuildID: buildID}
	release := stack.Activate(exec)
	defer release()

	jobCtx := runctx.NewContext(ctx, exec)
	c.buildLog.InfoContext(jobCtx, "build started", "job_id", job.ID, "build_id", buildID)

	result := c.invoke(jobCtx, fn, positional, keyword)

	if err := c.storage.FinishBuild(ctx, buildID, result); err != nil {
		return fmt.Errorf("finishing build %d: %w", buildID, err)
	}

	switch {
	case result.Success && result.Skipped:
		c.buildLog.InfoContext(jobCtx, "build skipped", "job_id", job.ID, "build_id", buildID)
	case result.Success:
		c.buildLog.InfoContext(jobCtx, "build successful", "job_id", job.ID, "build_id", buildID)
	default:
		c.buildLog.ErrorContext(jobCtx, "build failed",
			"job_id", job.ID, "build_id", buildID, "error", result.Exception)
	}
	return nil
}

// runBuild creates and immediately runs a build for a job.
func (c *Control) runBuild(ctx context.Context, jobID string) (int64, error) {
	c.logger.Info("starting build", "job_id", jobID)

	buildID, err := c.CreateBuild(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if err := c.RunBuild(ctx, buildID); err != nil {
		return 0, err
	}
	return buildID, nil
}

// invoke calls the job function and converts its outcome into a
// terminal build result. Panics are captured as failures.
func (c *Control) invoke(ctx context.Context, fn registry.JobFunc, positional []any, keyword map[string]any) (result store.FinishResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = store.FinishResult{
				Exception:      fmt.Sprintf("panic: %v", rec),
				ExceptionTrace: string(debug.Stack()),
			}
		}
	}()

	retval, err := fn(ctx, positional, keyword)
	switch {
	case err == nil:
		return store.FinishResult{Success: true, Retval: retval}
	case errors.Is(err, ErrSkipBuild):
		return store.FinishResult{Success: true, Skipped: true}
	default:
		return store.FinishResult{Exception: err.Error()}
	}
}

// latestSuccessful returns the newest finished, successful,
// non-skipped build for a job, or nil when none exists.
func (c *Control) latestSuccessful(ctx context.Context, jobID string) (*models.Build, error) {
	build, err := c.storage.GetLatestSuccessfulBuild(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return build, nil
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
