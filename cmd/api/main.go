// Package main provides the entry point for the API server.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/jobforge/jobforge/internal/api"
	"github.com/jobforge/jobforge/internal/builtins"
	"github.com/jobforge/jobforge/internal/control"
	"github.com/jobforge/jobforge/internal/jobcfg"
	"github.com/jobforge/jobforge/internal/queue"
	memqueue "github.com/jobforge/jobforge/internal/queue/memory"
	pgqueue "github.com/jobforge/jobforge/internal/queue/postgres"
	"github.com/jobforge/jobforge/internal/registry"
	"github.com/jobforge/jobforge/internal/store"
	memstore "github.com/jobforge/jobforge/internal/store/memory"
	pgstore "github.com/jobforge/jobforge/internal/store/postgres"
	"github.com/jobforge/jobforge/pkg/config"
	"github.com/jobforge/jobforge/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat == "json").WithComponent("api")

	jobs, err := jobcfg.Load(cfg.JobsFile)
	if err != nil {
		log.Error("failed to load job configuration", "error", err, "path", cfg.JobsFile)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		storage store.Storage
		buildQ  queue.Queue
	)
	if cfg.DatabaseDSN != "" {
		pg, err := pgstore.New(pgstore.DefaultConfig(cfg.DatabaseDSN), log.Logger)
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		if err := pg.Install(ctx); err != nil {
			log.Error("failed to install database schema", "error", err)
			os.Exit(1)
		}
		storage = pg

		db, err := sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			log.Error("failed to open queue database connection", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		q := pgqueue.New(db, log.Logger)
		if err := q.Install(ctx); err != nil {
			log.Error("failed to install queue schema", "error", err)
			os.Exit(1)
		}
		buildQ = q
	} else {
		log.Warn("DATABASE_URL not set, using in-memory storage")
		storage = memstore.New()
		buildQ = memqueue.New()
	}
	defer storage.Close()

	reg := registry.NewMapRegistry()
	ctl := control.New(storage, jobs, reg, log.Logger)
	builtins.Register(reg, ctl)

	server := api.NewServer(cfg, ctl, buildQ, reg, log.Logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
		cancel()
	}()

	if err := server.Start(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
