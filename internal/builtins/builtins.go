// Package builtins registers a small set of generally useful job
// functions: echoing arguments, sleeping, failing on purpose, and
// skipping. They serve as smoke-test targets and as examples of the
// job function contract.
package builtins

import (
	"context"
	"fmt"
	"time"

	"github.com/jobforge/jobforge/internal/control"
	"github.com/jobforge/jobforge/internal/registry"
	"github.com/jobforge/jobforge/internal/runctx"
)

// Register adds the builtin job functions to a registry. The control
// engine is used for progress reporting from inside builds.
func Register(r *registry.MapRegistry, ctl *control.Control) {
	r.Register("builtin.echo", echo)
	r.Register("builtin.sleep", makeSleep(ctl))
	r.Register("builtin.fail", fail)
	r.Register("builtin.skip", skip)
}

// echo returns its own arguments, useful for exercising argument
// resolution and return value passing.
func echo(_ context.Context, args []any, kwargs map[string]any) (any, error) {
	return map[string]any{"args": args, "kwargs": kwargs}, nil
}

// makeSleep returns a job function sleeping for a configurable number
// of seconds, reporting progress once per second.
func makeSleep(ctl *control.Control) registry.JobFunc {
	return func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		seconds := 1
		if len(args) > 0 {
			n, ok := args[0].(int)
			if !ok {
				return nil, fmt.Errorf("sleep expects an integer duration, got %T", args[0])
			}
			seconds = n
		}

		for i := 0; i < seconds; i++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Second):
			}
			if _, err := runctx.FromContext(ctx); err == nil {
				status := fmt.Sprintf("slept %d of %d seconds", i+1, seconds)
				if err := ctl.ReportProgress(ctx, nil, i+1, seconds, status); err != nil {
					return nil, fmt.Errorf("reporting progress: %w", err)
				}
			}
		}
		return seconds, nil
	}
}

// fail always fails, with an optional message argument.
func fail(_ context.Context, args []any, _ map[string]any) (any, error) {
	if len(args) > 0 {
		if msg, ok := args[0].(string); ok {
			return nil, fmt.Errorf("build failed: %s", msg)
		}
	}
	return nil, fmt.Errorf("build failed on request")
}

// skip always reports a successful no-op.
func skip(_ context.Context, _ []any, _ map[string]any) (any, error) {
	return nil, control.ErrSkipBuild
}
