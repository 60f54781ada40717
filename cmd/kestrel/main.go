// Kestrel - Opportunity risk evaluation for sales pipelines.
// Copyright (c) 2025 opensource.crm
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-crm/kestrel/internal/api"
	"github.com/opensource-crm/kestrel/internal/bus"
	"github.com/opensource-crm/kestrel/internal/cache"
	"github.com/opensource-crm/kestrel/internal/detect"
	"github.com/opensource-crm/kestrel/internal/domain"
	"github.com/opensource-crm/kestrel/internal/engine"
	"github.com/opensource-crm/kestrel/internal/repository"
	"github.com/opensource-crm/kestrel/internal/revenue"
	"github.com/opensource-crm/kestrel/internal/telemetry"
	"github.com/opensource-crm/kestrel/internal/warning"
	"github.com/opensource-crm/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

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

	// Initialize detectors
	ruleDetector, err := detect.NewRuleDetector(cfg.Engine.DetectorWorkers)
	if err != nil {
		slog.Error("failed to initialize rule detector", "error", err)
		os.Exit(1)
	}
	historicalDetector := detect.NewHistoricalPatternDetector()
	slog.Info("detectors initialized", "detector_workers", cfg.Engine.DetectorWorkers)

	// The scoring oracle and vector search are external services; when
	// unconfigured the engine runs in degraded mode and records their
	// absence in every evaluation's assumptions.
	tracker := telemetry.NewTracker(logger)

	// Initialize Orchestrator
	orchestrator, err := engine.New(engine.Options{
		Repository:         repo,
		Cache:              cacheImpl,
		Bus:                busImpl,
		Config:             cfg.Engine,
		Tracker:            tracker,
		RuleDetector:       ruleDetector,
		HistoricalDetector: historicalDetector,
	})
	if err != nil {
		slog.Error("failed to initialize orchestrator", "error", err)
		os.Exit(1)
	}
	slog.Info("orchestrator initialized",
		"freshness_window", cfg.Engine.FreshnessWindow,
		"cascade_max", cfg.Engine.CascadeMaxOpportunities,
	)

	// Initialize revenue calculator and early warning detector
	calculator := revenue.NewCalculator(repo, orchestrator)
	warnings := warning.NewDetector(repo, busImpl, cfg.Engine)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, orchestrator)

		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, orchestrator, calculator, warnings, ruleDetector, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

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

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - Opportunity Risk Evaluation Engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /opportunities                         - Ingest an opportunity")
	fmt.Println("    POST /opportunities/{id}/evaluate           - Evaluate risk now")
	fmt.Println("    POST /opportunities/{id}/evaluate/queue     - Queue async evaluation")
	fmt.Println("    GET  /opportunities/{id}/risks              - Current risks with history")
	fmt.Println("    GET  /opportunities/{id}/risk/evolution     - Score trajectory")
	fmt.Println("    GET  /opportunities/{id}/risk/breakdown     - Audit-backed score breakdown")
	fmt.Println("    GET  /opportunities/{id}/risk/patterns      - Recurring risk patterns")
	fmt.Println("    GET  /opportunities/{id}/revenue-at-risk    - Financial exposure")
	fmt.Println("    GET  /opportunities/{id}/warnings           - Early warning signals")
	fmt.Println("    GET  /revenue-at-risk                       - Portfolio exposure")
	fmt.Println("    GET  /catalog                               - Risk catalog")
	fmt.Println("    POST /catalog                               - Create a tenant risk")
	fmt.Println("    GET  /health                                - Health check")
	fmt.Println()
}
