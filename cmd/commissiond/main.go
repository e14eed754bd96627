// commissiond - Deal approvals and commission payouts.
// Copyright (c) 2025 opensource.finance
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

	"github.com/opensource-finance/commission/internal/api"
	"github.com/opensource-finance/commission/internal/bus"
	"github.com/opensource-finance/commission/internal/cache"
	"github.com/opensource-finance/commission/internal/commission"
	"github.com/opensource-finance/commission/internal/domain"
	"github.com/opensource-finance/commission/internal/events"
	"github.com/opensource-finance/commission/internal/metrics"
	"github.com/opensource-finance/commission/internal/onboarding"
	"github.com/opensource-finance/commission/internal/repository"
	"github.com/opensource-finance/commission/internal/risk"
	"github.com/opensource-finance/commission/internal/worker"
	"github.com/opensource-finance/commission/internal/workflow"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := domain.LoadConfig(os.Getenv("COMMISSION_CONFIG"))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting commissiond",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"default_rate", cfg.Commission.DefaultRate.String(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Audit entries and notifications travel over the bus and are
	// persisted by the worker.
	publisher := events.NewPublisher(busImpl)
	eventWorker := worker.NewWorker(busImpl, repo)
	if err := eventWorker.Start(); err != nil {
		slog.Error("failed to start event worker", "error", err)
		os.Exit(1)
	}

	engine, err := risk.NewEngine(cfg.Risk.MaxWorkers)
	if err != nil {
		slog.Error("failed to initialize risk engine", "error", err)
		os.Exit(1)
	}
	riskManager := risk.NewManager(engine, repo)
	if err := riskManager.Bootstrap(ctx); err != nil {
		slog.Error("failed to load risk rules", "error", err)
		os.Exit(1)
	}
	slog.Info("risk engine initialized", "rules_count", engine.RulesCount())

	stats := metrics.NewService(repo)
	tracker := onboarding.NewTracker(repo, cacheImpl, busImpl, publisher, cfg.Cache.EntryTTL)

	svc := workflow.NewService(workflow.Deps{
		Repo:       repo,
		Cache:      cacheImpl,
		Calculator: commission.New(cfg.Commission),
		Tracker:    tracker,
		Risk:       risk.NewAssessor(engine, stats, cfg.Risk),
		Audit:      publisher,
		Notify:     publisher,
		Events:     publisher,
		CacheTTL:   cfg.Cache.EntryTTL,
	})

	srv := api.NewServer(cfg.Server, api.Deps{
		Workflow: svc,
		Tracker:  tracker,
		Metrics:  stats,
		Risk:     riskManager,
		Repo:     repo,
		Cache:    cacheImpl,
		Audit:    publisher,
		Version:  Version,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("commissiond is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// The worker goes after the server so in-flight requests can still
	// publish their audit entries.
	if err := eventWorker.Stop(); err != nil {
		slog.Error("failed to stop event worker", "error", err)
	}

	slog.Info("commissiond shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("COMMISSION_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  commissiond")
	fmt.Println("  Deal approvals and commission payouts")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET   /deals                       - List deals")
	fmt.Println("    POST  /deals                       - Create a deal")
	fmt.Println("    PATCH /deals/{id}/status           - Move a deal through the pipeline")
	fmt.Println("    GET   /deals/summary               - Pipeline and payout summary")
	fmt.Println("    GET   /policy                      - List incentive policies")
	fmt.Println("    POST  /policy                      - Create or update a policy")
	fmt.Println("    POST  /simulation/preview          - Preview an incentive")
	fmt.Println("    GET   /onboarding/progress/{user}  - Onboarding checklist")
	fmt.Println("    GET   /risk/rules                  - List risk rules")
	fmt.Println("    GET   /health                      - Health check")
	fmt.Println()
}
