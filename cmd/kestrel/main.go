// Kestrel - Real-time fraud decision engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fraudshield/kestrel/internal/aggregate"
	"github.com/fraudshield/kestrel/internal/api"
	"github.com/fraudshield/kestrel/internal/blacklist"
	"github.com/fraudshield/kestrel/internal/bus"
	"github.com/fraudshield/kestrel/internal/cache"
	"github.com/fraudshield/kestrel/internal/domain"
	"github.com/fraudshield/kestrel/internal/ensemble"
	"github.com/fraudshield/kestrel/internal/orchestrator"
	"github.com/fraudshield/kestrel/internal/repository"
	"github.com/fraudshield/kestrel/internal/rules"
	"github.com/fraudshield/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
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

	cfg := loadConfig()

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"model_scoring", cfg.Ensemble.ClassifierURL != "",
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

	store := blacklist.NewStore(repo, cacheImpl, logger)

	catalog, err := rules.NewCatalog()
	if err != nil {
		slog.Error("failed to initialize rule catalog", "error", err)
		os.Exit(1)
	}

	// Rules live in the database and are managed via POST /rules; an empty
	// catalog is a valid starting state.
	if err := loadRulesFromDatabase(ctx, repo, catalog); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule catalog initialized", "rules_count", catalog.RulesCount())

	evaluator := rules.NewEvaluator(catalog, store, logger)

	scorer := buildScorer(cfg.Ensemble, logger)
	if scorer == nil {
		slog.Info("model scoring disabled, decisions are rule-only")
	}

	aggregator := aggregate.NewAggregator(cfg.Decision, logger)

	orch := orchestrator.New(evaluator, scorer, aggregator, store, repo, busImpl, logger)

	maintenance := worker.New(busImpl, cacheImpl, store, logger)
	if err := maintenance.Start(worker.Config{
		CleanupInterval: time.Hour,
		CounterWindow:   24 * time.Hour,
	}); err != nil {
		slog.Error("failed to start maintenance worker", "error", err)
		os.Exit(1)
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, catalog, orch, store, Version)

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

	<-ctx.Done()
	slog.Info("shutting down...")

	if err := maintenance.Stop(); err != nil {
		slog.Error("failed to stop maintenance worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadConfig picks the deployment profile and applies environment
// overrides on top.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_MODE") == "cluster" {
		cfg = domain.ClusterConfig()
		slog.Info("running in cluster mode")
	}

	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_CLASSIFIER_URL"); v != "" {
		cfg.Ensemble.ClassifierURL = v
	}
	if v := os.Getenv("KESTREL_ANOMALY_URL"); v != "" {
		cfg.Ensemble.AnomalyURL = v
	}
	return cfg
}

// buildScorer wires the two model clients when endpoints are configured.
// Without endpoints the engine runs rule-only.
func buildScorer(cfg domain.EnsembleConfig, logger *slog.Logger) *ensemble.Scorer {
	if cfg.ClassifierURL == "" && cfg.AnomalyURL == "" {
		return nil
	}

	var classifier, anomaly ensemble.ModelClient
	if cfg.ClassifierURL != "" {
		classifier = ensemble.NewHTTPClient("classifier", cfg.ClassifierURL,
			cfg.RequestTimeout, cfg.BreakerMaxFailures, cfg.BreakerTimeout, logger)
	}
	if cfg.AnomalyURL != "" {
		anomaly = ensemble.NewHTTPClient("anomaly", cfg.AnomalyURL,
			cfg.RequestTimeout, cfg.BreakerMaxFailures, cfg.BreakerTimeout, logger)
	}

	return ensemble.NewScorer(classifier, anomaly, cfg, logger)
}

// loadRulesFromDatabase loads active and test-mode rules into the catalog.
// All rules are configured via POST /rules - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, catalog *rules.Catalog) error {
	dbRules, err := repo.ListActiveRules(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with an empty catalog - rules can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return catalog.ReloadRules(dbRules)
	}

	slog.Info("no rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║       Fraud Decision Engine               ║")
	fmt.Println("  ║     Every transaction, decided.           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze                 - Analyze a transaction")
	fmt.Println("    POST /comprehensive-check     - Full multi-context check")
	fmt.Println("    POST /evaluate-model          - Score features with the model ensemble")
	fmt.Println("    POST /check/{context}         - Single context check")
	fmt.Println("    GET  /results/{transactionId} - Latest analysis for a transaction")
	fmt.Println("    GET  /rules                   - List loaded rules")
	fmt.Println("    POST /rules                   - Create a new rule")
	fmt.Println("    POST /rules/reload            - Hot-reload rules from database")
	fmt.Println("    GET  /events                  - List rule events")
	fmt.Println("    GET  /blacklist               - List blocklist entries")
	fmt.Println("    POST /blacklist               - Add a blocklist entry")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println()
}
