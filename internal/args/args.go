// Package args prepares a job's call arguments, replacing dependency
// return-value placeholders with actual values from the pinned
// dependency builds.
package args

import (
	"context"
	"errors"
	"fmt"

	"github.com/jobforge/jobforge/internal/models"
)

// Resolution errors. All abort the build before it is marked started.
var (
	// ErrInvalidReference means a placeholder references a job that is
	// not a declared dependency of the current job.
	ErrInvalidReference = errors.New("invalid dependency reference")
	// ErrDependencyNotBuilt means the referenced dependency has no
	// pinned successful build to take a return value from.
	ErrDependencyNotBuilt = errors.New("dependency has no successful build")
	// ErrUnsupportedType means an argument value is of a type the
	// resolver cannot walk.
	ErrUnsupportedType = errors.New("unsupported argument type")
)

// Retval is the typed placeholder for "the return value of dependency
// <JobID>", as written in job configuration (`!retval <job>`). The
// type is defined on the model so build snapshots revive it after a
// JSON round trip through storage.
type Retval = models.Retval

// BuildFetcher is the slice of the storage contract the resolver
// needs.
type BuildFetcher interface {
	GetBuild(ctx context.Context, buildID int64) (*models.Build, error)
}

// Resolve walks value structurally and substitutes every Retval
// placeholder with the return value of the dependency's pinned build.
// job is the job being built; pins maps dependency job ids to the
// build ids captured at build-creation time.
func Resolve(ctx context.Context, value any, job *models.Job, pins map[string]int64, builds BuildFetcher) (any, error) {
	switch v := value.(type) {
	case Retval:
		return resolveRetval(ctx, v, job, pins, builds)

	case *Retval:
		return resolveRetval(ctx, *v, job, pins, builds)

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := Resolve(ctx, item, job, pins, builds)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := Resolve(ctx, item, job, pins, builds)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil

	case map[any]any:
		out := make(map[any]any, len(v))
		for k, item := range v {
			key, err := Resolve(ctx, k, job, pins, builds)
			if err != nil {
				return nil, err
			}
			resolved, err := Resolve(ctx, item, job, pins, builds)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil

	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, value)
	}
}

// ResolveArgs resolves a job's positional and keyword arguments in one
// pass, against the pinned builds of the given build record.
func ResolveArgs(ctx context.Context, build *models.Build, builds BuildFetcher) ([]any, map[string]any, error) {
	job := build.JobConfig
	pins := build.Config.DependencyBuilds

	resolved, err := Resolve(ctx, job.Args, job, pins, builds)
	if err != nil {
		return nil, nil, err
	}
	var positional []any
	if resolved != nil {
		positional = resolved.([]any)
	}

	resolvedKw, err := Resolve(ctx, job.Kwargs, job, pins, builds)
	if err != nil {
		return nil, nil, err
	}
	var keyword map[string]any
	if resolvedKw != nil {
		keyword = resolvedKw.(map[string]any)
	}

	return positional, keyword, nil
}

func resolveRetval(ctx context.Context, ref Retval, job *models.Job, pins map[string]int64, builds BuildFetcher) (any, error) {
	if !job.HasDependency(ref.JobID) {
		return nil, fmt.Errorf("%w: job %q is not a dependency of job %q",
			ErrInvalidReference, ref.JobID, job.ID)
	}

	buildID, ok := pins[ref.JobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %q has no pinned build", ErrDependencyNotBuilt, ref.JobID)
	}

	build, err := builds.GetBuild(ctx, buildID)
	if err != nil {
		return nil, fmt.Errorf("fetching pinned build %d for job %q: %w", buildID, ref.JobID, err)
	}

	if !build.Finished || !build.Success {
		return nil, fmt.Errorf("%w: pinned build %d of job %q did not succeed",
			ErrDependencyNotBuilt, buildID, ref.JobID)
	}

	return build.Retval, nil
}
