// Package main provides the entry point for the build worker.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jobforge/jobforge/internal/builtins"
	"github.com/jobforge/jobforge/internal/control"
	"github.com/jobforge/jobforge/internal/jobcfg"
	pgqueue "github.com/jobforge/jobforge/internal/queue/postgres"
	"github.com/jobforge/jobforge/internal/registry"
	pgstore "github.com/jobforge/jobforge/internal/store/postgres"
	"github.com/jobforge/jobforge/internal/worker"
	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat == "json").WithComponent("worker")

	if cfg.DatabaseDSN == "" {
		log.Error("DATABASE_URL is required for the worker")
		os.Exit(1)
	}

	jobs, err := jobcfg.Load(cfg.JobsFile)
	if err != nil {
		log.Error("failed to load job configuration", "error", err, "path", cfg.JobsFile)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storage, err := pgstore.New(pgstore.DefaultConfig(cfg.DatabaseDSN), log.Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	if err := storage.Install(ctx); err != nil {
		log.Error("failed to install database schema", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		log.Error("failed to open queue database connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	buildQ := pgqueue.New(db, log.Logger)
	if err := buildQ.Install(ctx); err != nil {
		log.Error("failed to install queue schema", "error", err)
		os.Exit(1)
	}

	reg := registry.NewMapRegistry()
	ctl := control.New(storage, jobs, reg, log.Logger)
	builtins.Register(reg, ctl)

	workerCfg := worker.DefaultConfig()
	workerCfg.Concurrency = cfg.Worker.Concurrency
	workerCfg.PollInterval = cfg.Worker.PollInterval
	pool := worker.New(workerCfg, ctl, buildQ, log.Logger)

	go pruneLoop(ctx, ctl, cfg.Worker.LogPruneInterval, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	if err := pool.Run(ctx); err != nil {
		log.Error("worker error", "error", err)
		os.Exit(1)
	}

	log.Info("worker stopped")
}

// pruneLoop deletes expired build log records on a fixed interval,
// applying the default per-level retention policy.
func pruneLoop(ctx context.Context, ctl *control.Control, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ctl.PruneLogs(ctx, nil); err != nil {
				log.Error("failed to prune build logs", "error", err)
			}
		}
	}
}
