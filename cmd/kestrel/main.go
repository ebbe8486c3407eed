// Kestrel - Real-time fraud risk scoring.
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

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
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

	// Initialize the scoring ensemble. A model config stored under the
	// global tenant overrides the built-in constants.
	modelCfg := domain.DefaultModelConfig()
	if stored, err := repo.GetModelConfig(ctx, "_global", modelCfg.Version); err == nil && stored != nil {
		modelCfg = stored
		slog.Info("model config loaded from database", "version", modelCfg.Version)
	}
	scorer, err := scoring.NewScorer(modelCfg, nil, logger)
	if err != nil {
		slog.Error("failed to initialize scorer", "error", err)
		os.Exit(1)
	}
	slog.Info("scoring ensemble initialized", "model_version", scorer.Config().Version)

	// Initialize the history provider
	hist := history.NewProvider(repo, cacheImpl, logger)

	// Initialize Overlay Rule Engine
	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Load overlay rules from database (no hardcoded defaults - configure via API)
	tenantIDs := parseTenants(os.Getenv("KESTREL_TENANTS"))
	if err := loadRulesFromDatabase(ctx, repo, engine, tenantIDs); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize async Worker (Pro tier)
	asyncIngest := cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true"

	var asyncWorker *worker.Worker
	if asyncIngest {
		asyncWorker = worker.NewWorker(busImpl, repo, scorer, engine, hist)

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, scorer, engine, hist, Version, asyncIngest)

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

// parseTenants splits the comma-separated KESTREL_TENANTS value.
func parseTenants(env string) []string {
	if env == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(env, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// loadRulesFromDatabase loads each tenant's overlay rules into the engine.
// All rules must be configured via POST /rules API - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine, tenantIDs []string) error {
	total := 0
	for _, tenantID := range tenantIDs {
		dbRules, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			slog.Warn("failed to list rules from database", "tenant_id", tenantID, "error", err)
			continue // Start with empty rules - they can be added via API
		}
		if len(dbRules) == 0 {
			continue
		}
		if err := engine.LoadRules(dbRules); err != nil {
			return err
		}
		total += len(dbRules)
	}

	if total > 0 {
		slog.Info("loaded rules from database", "count", total)
	} else {
		slog.Info("no rules in database - configure via POST /rules API")
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║       Fraud Risk Scoring Engine           ║")
	fmt.Println("  ║      Hover. Watch. Strike first.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict           - Score a transaction")
	fmt.Println("    POST /explain           - Score with narrative explanation")
	fmt.Println("    POST /predict/batch     - Score up to 100 transactions")
	fmt.Println("    GET  /model             - Model weights and thresholds")
	fmt.Println("    POST /ingest            - Ingest and score a transaction")
	fmt.Println("    GET  /transactions/{id} - Get transaction by ID")
	fmt.Println("    GET  /predictions/{id}  - Get prediction by ID")
	fmt.Println("    GET  /rules             - List overlay rules")
	fmt.Println("    POST /rules             - Create an overlay rule")
	fmt.Println("    POST /rules/validate    - Validate a CEL expression")
	fmt.Println("    POST /rules/reload      - Hot-reload rules from database")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
