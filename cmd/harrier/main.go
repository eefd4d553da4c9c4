// Harrier - Valuation rule engine for resale computer listings.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openresale/harrier/internal/analytics"
	"github.com/openresale/harrier/internal/api"
	"github.com/openresale/harrier/internal/baseline"
	"github.com/openresale/harrier/internal/bus"
	"github.com/openresale/harrier/internal/cache"
	"github.com/openresale/harrier/internal/domain"
	"github.com/openresale/harrier/internal/formula"
	"github.com/openresale/harrier/internal/pack"
	"github.com/openresale/harrier/internal/pricing"
	"github.com/openresale/harrier/internal/repository"
	"github.com/openresale/harrier/internal/rules"
	"github.com/openresale/harrier/internal/worker"
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
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("HARRIER_TIER") == "pro" {
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

	// Initialize formula and rule evaluators
	formulas, err := formula.NewEvaluator()
	if err != nil {
		slog.Error("failed to initialize formula evaluator", "error", err)
		os.Exit(1)
	}
	evaluator := rules.NewEvaluator(formulas)
	orchestrator := pricing.NewOrchestrator(evaluator)
	slog.Info("valuation engine initialized")

	// Initialize Baseline Service and seed the stock baseline when the
	// store has none yet.
	baselines := baseline.NewService(repo, formulas, cfg.Layers)
	if err := seedBaseline(ctx, baselines); err != nil {
		slog.Error("failed to seed baseline", "error", err)
		os.Exit(1)
	}

	// Initialize Packaging and Analytics services
	packer := pack.NewService(repo, cfg.Layers)
	stats := analytics.NewService(repo, logger)

	// Initialize batch revaluation worker
	revaluer := worker.NewWorker(busImpl, repo, cacheImpl, orchestrator, cfg.Layers, cfg.Recalc.Workers)
	if err := revaluer.Start(); err != nil {
		slog.Error("failed to start revaluation worker", "error", err)
		os.Exit(1)
	}
	slog.Info("revaluation worker started", "workers", cfg.Recalc.Workers)

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, revaluer, baselines, packer, stats, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker first so in-flight batches drain
	if err := revaluer.Stop(); err != nil {
		slog.Error("failed to stop revaluation worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// seedBaseline instantiates the embedded stock baseline document when no
// baseline is active yet. A store that already carries a baseline is left
// alone, including ones adopted from modified documents.
func seedBaseline(ctx context.Context, baselines *baseline.Service) error {
	if rs, err := baselines.ActiveBaseline(ctx); err == nil {
		slog.Info("baseline already present", "ruleset_id", rs.ID, "version", rs.Version)
		return nil
	} else if !errors.Is(err, baseline.ErrNoBaseline) {
		return err
	}

	rs, _, err := baselines.Instantiate(ctx, []byte(baseline.StockDocument))
	if err != nil {
		return err
	}
	slog.Info("stock baseline instantiated", "ruleset_id", rs.ID, "version", rs.Version)
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               HARRIER                     ║")
	fmt.Println("  ║     Listing Valuation Rule Engine         ║")
	fmt.Println("  ║      A fair price for every box.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /listings                 - Create and value a listing")
	fmt.Println("    GET  /listings/{id}            - Get listing by ID")
	fmt.Println("    GET  /listings/{id}/valuation  - Get valuation breakdown")
	fmt.Println("    POST /listings/{id}/evaluate   - Re-value one listing")
	fmt.Println("    POST /recalculate              - Batch revaluation")
	fmt.Println("    GET  /rulesets                 - List rule-sets")
	fmt.Println("    POST /rulesets/{id}/hydrate    - Expand placeholder rules")
	fmt.Println("    POST /rules                    - Create or update a rule")
	fmt.Println("    GET  /baseline                 - Active baseline metadata")
	fmt.Println("    POST /baseline/diff            - Diff a candidate baseline")
	fmt.Println("    POST /baseline/adopt           - Adopt baseline changes")
	fmt.Println("    GET  /export                   - Export rule-sets as YAML")
	fmt.Println("    POST /import                   - Import a rule-set document")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
