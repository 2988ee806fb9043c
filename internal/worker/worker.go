// Package worker processes queued build requests against the
// orchestration engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobforge/jobforge/internal/control"
	"github.com/jobforge/jobforge/internal/queue"
)

// Config holds configuration for the build worker pool.
type Config struct {
	// Concurrency is the number of goroutines polling the queue.
	Concurrency int
	// PollInterval is how long a goroutine sleeps when the queue is
	// empty.
	PollInterval time.Duration
	// ErrorBackoff is how long a goroutine sleeps after a dequeue
	// error.
	ErrorBackoff time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:  4,
		PollInterval: 1 * time.Second,
		ErrorBackoff: 5 * time.Second,
	}
}

// Worker consumes build requests from a queue and executes them.
type Worker struct {
	control *control.Control
	queue   queue.Queue
	cfg     Config
	logger  *slog.Logger
}

// New creates a worker pool.
func New(cfg Config, ctl *control.Control, q queue.Queue, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultConfig().ErrorBackoff
	}
	return &Worker{control: ctl, queue: q, cfg: cfg, logger: logger}
}

// Run processes requests until the context is cancelled, then waits
// for in-flight builds to finish.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting build worker", "concurrency", w.cfg.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i
		g.Go(func() error {
			return w.loop(ctx, workerID)
		})
	}

	err := g.Wait()
	w.logger.Info("build worker stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, workerID int) error {
	logger := w.logger.With("worker_id", workerID)
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker context cancelled")
			return ctx.Err()
		default:
		}

		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrNoRequests) {
				w.sleep(ctx, w.cfg.PollInterval)
				continue
			}
			logger.Error("failed to dequeue request", "error", err)
			w.sleep(ctx, w.cfg.ErrorBackoff)
			continue
		}

		if err := w.process(ctx, req); err != nil {
			logger.Error("failed to process request",
				"request_id", req.ID,
				"job_id", req.JobID,
				"error", err,
			)
			if nackErr := w.queue.Nack(ctx, req.ID); nackErr != nil {
				logger.Error("failed to nack request", "request_id", req.ID, "error", nackErr)
			}
			continue
		}

		if err := w.queue.Ack(ctx, req.ID); err != nil {
			logger.Error("failed to ack request", "request_id", req.ID, "error", err)
		}
	}
}

// process executes one build request. Errors here mean the request
// itself could not be carried out; a build that ran and failed is a
// recorded outcome, not a processing error.
func (w *Worker) process(ctx context.Context, req *queue.BuildRequest) error {
	w.logger.Info("processing build request",
		"request_id", req.ID,
		"job_id", req.JobID,
	)

	policy, err := control.ParseDependencyPolicy(req.DependencyPolicy)
	if err != nil {
		return fmt.Errorf("parsing request: %w", err)
	}

	buildID, err := w.control.BuildJob(ctx, req.JobID, control.BuildOptions{
		DependencyPolicy: policy,
		BuildDependents:  req.BuildDependents,
	})
	if err != nil {
		return fmt.Errorf("building job %q: %w", req.JobID, err)
	}

	w.logger.Info("build request completed",
		"request_id", req.ID,
		"job_id", req.JobID,
		"build_id", buildID,
	)
	return nil
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
