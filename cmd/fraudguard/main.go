// FraudGuard - Fraud risk assessment for mobile money.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/fraudguard/internal/api"
	"github.com/opensource-finance/fraudguard/internal/assess"
	"github.com/opensource-finance/fraudguard/internal/bus"
	"github.com/opensource-finance/fraudguard/internal/cache"
	"github.com/opensource-finance/fraudguard/internal/config"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/ledger"
	"github.com/opensource-finance/fraudguard/internal/pipeline"
	"github.com/opensource-finance/fraudguard/internal/repository"
	"github.com/opensource-finance/fraudguard/internal/tracing"
	"github.com/opensource-finance/fraudguard/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("FRAUDGUARD_CONFIG"), "path to a YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := config.NewLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	slog.Info("starting fraudguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context cancelled on shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize tracing
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, Version, logger)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Assessor and the serving model
	assessor, err := assess.New(append(assess.ConfigOptions(cfg.Model), assess.WithLogger(logger))...)
	if err != nil {
		slog.Error("failed to initialize assessor", "error", err)
		os.Exit(1)
	}
	if err := loadModel(ctx, cfg.Model, assessor, repo); err != nil {
		slog.Error("failed to load model", "error", err)
		os.Exit(1)
	}

	// Initialize the assessment pipeline
	processor := pipeline.New(assessor,
		pipeline.WithRepository(repo),
		pipeline.WithCache(cacheImpl, cfg.Cache.TTLDuration()),
		pipeline.WithBus(busImpl),
		pipeline.WithLedger(ledger.NewStubSubmitter()),
		pipeline.WithLogger(logger),
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, processor)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.TenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(cfg.Worker.TenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Dependencies{
		Assessor:  assessor,
		Processor: processor,
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		ModelPath: cfg.Model.Path,
	}, Version)

	// Start Server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("fraudguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"model_trained", assessor.Trained(),
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal or server failure
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
	}

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("fraudguard shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  FraudGuard - fraud risk assessment for mobile money")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/predict              - Assess a transaction")
	fmt.Println("    POST /api/v1/transactions         - Record and assess a transaction")
	fmt.Println("    GET  /api/v1/transactions         - List transactions")
	fmt.Println("    GET  /api/v1/transactions/{id}    - Get transaction by ID")
	fmt.Println("    GET  /api/v1/assessments/{txId}   - Get assessment of a transaction")
	fmt.Println("    GET  /api/v1/model                - Serving model info")
	fmt.Println("    GET  /api/v1/model/features       - Feature importances")
	fmt.Println("    POST /api/v1/model/train          - Train a new model")
	fmt.Println("    POST /api/v1/model/reload         - Reload the stored model")
	fmt.Println("    GET  /api/v1/blocked-accounts     - List blocked accounts")
	fmt.Println("    GET  /health, /ready, /metrics")
	fmt.Println()
}
