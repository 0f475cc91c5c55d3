// Kestrel - Policy-driven credit scoring for business applicants.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
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
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/oracle"
	"github.com/opensource-finance/kestrel/internal/ratelimit"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"oracle", cfg.Oracle.BaseURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, Version)
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

	m := metrics.New(prometheus.DefaultRegisterer)

	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}
	if err := seedPolicies(ctx, cfg.PolicyFile, repo); err != nil {
		slog.Error("failed to seed policies", "file", cfg.PolicyFile, "error", err)
		os.Exit(1)
	}
	rep, err := engine.Sync(ctx, repo)
	if err != nil {
		// Start empty; policies can be reloaded via the API once storage recovers.
		slog.Warn("failed to load policies", "error", err)
	}
	slog.Info("policy engine initialized",
		"policies_count", rep.Loaded,
		"skipped", rep.Skipped,
	)

	orch := decision.NewOrchestrator(decision.Deps{
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Policies: engine,
		Oracle:   oracle.NewClient(cfg.Oracle),
		Fallback: scoring.NewFallbackScorer(cfg.Fallback),
		Metrics:  m,
	})
	svc := decision.NewService(orch, repo, cacheImpl, busImpl, cfg.Cache.ViewTTL)
	coordinator := worker.NewCoordinator(orch, cfg.Batch, m)

	asyncWorker := worker.NewWorker(busImpl, orch)
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start async worker", "error", err)
		os.Exit(1)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cacheImpl, cfg.RateLimit, m)
		go ratelimit.RunJanitor(ctx, cacheImpl, cfg.RateLimit.CleanupInterval)
		slog.Info("rate limiting enabled",
			"per_minute", cfg.RateLimit.PerMinute,
			"per_hour", cfg.RateLimit.PerHour,
		)
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Service:       svc,
		Batch:         coordinator,
		Engine:        engine,
		Repo:          repo,
		Cache:         cacheImpl,
		Bus:           busImpl,
		Limiter:       limiter,
		MaxBatchItems: cfg.Batch.MaxItems,
	}, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
	}

	// Stop consuming async work before the server and stores go away.
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("failed to flush traces", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadConfig picks the tier defaults, overlays KESTREL_CONFIG and then the
// individual KESTREL_* variables.
func loadConfig() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv("KESTREL_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if path := os.Getenv("KESTREL_CONFIG"); path != "" {
		if err := domain.LoadConfigFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if os.Getenv("KESTREL_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogger(cfg domain.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// seedPolicies upserts the policies of a YAML seed file. Policies already
// stored keep their creation time.
func seedPolicies(ctx context.Context, path string, repo domain.Repository) error {
	if path == "" {
		slog.Info("no policy seed file - configure policies via POST /api/v1/policies")
		return nil
	}

	policies, err := rules.LoadPolicyFile(path)
	if err != nil {
		return err
	}
	for _, p := range policies {
		if existing, err := repo.GetPolicy(ctx, p.ID); err == nil {
			p.CreatedAt = existing.CreatedAt
		}
		if err := repo.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("save policy %s: %w", p.ID, err)
		}
	}
	slog.Info("policies seeded", "file", path, "count", len(policies))
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - policy-driven business credit scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Oracle:   %s\n", cfg.Oracle.BaseURL)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/scores                   - Score an applicant")
	fmt.Println("    POST /api/v1/scores/batch             - Score a batch of applicants")
	fmt.Println("    POST /api/v1/scores/async             - Submit an applicant for async scoring")
	fmt.Println("    GET  /api/v1/scores/lookup            - Latest score by company name and INN")
	fmt.Println("    GET  /api/v1/scores/{id}              - Get a scored applicant")
	fmt.Println("    GET  /api/v1/decisions/pending        - Decisions awaiting review")
	fmt.Println("    PUT  /api/v1/decisions/{id}           - Resolve a decision")
	fmt.Println("    GET  /api/v1/policies                 - List policies")
	fmt.Println("    POST /api/v1/policies/reload          - Hot-reload policies")
	fmt.Println("    GET  /health  /ready  /metrics")
	fmt.Println()
}
