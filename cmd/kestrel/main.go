// Kestrel - Real-time fraud scoring for transactions and behavioral biometrics.
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
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/outbox"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/stream"
	"github.com/opensource-finance/kestrel/internal/tracing"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides KESTREL_CONFIG)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("kestrel stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)

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
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collectorSet := metrics.NewCollectors(registry)

	box := outbox.New("delivery", cfg.Delivery, outbox.Hooks{
		Failed:  func(job string, _ error) { collectorSet.JobFailed(job) },
		Dropped: collectorSet.JobDropped,
	})

	dispatcher := alert.NewDispatcher(cfg.Alerting, newDeduper(cfg.Alerting, cacheImpl), box, collectorSet, alertSinks(cfg.Alerting, repo, busImpl)...)

	aggregator := metrics.NewAggregator(cfg.Metrics, metrics.Options{
		Repository: repo,
		Bus:        busImpl,
		Outbox:     box,
		Alerts:     dispatcher,
		Collectors: collectorSet,
	})
	aggCtx, stopAggregator := context.WithCancel(ctx)
	defer stopAggregator()
	go aggregator.Run(aggCtx)

	// Initialize factor rules
	ruleEngine, err := rules.NewEngine(100)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer ruleEngine.Close()
	if err := loadRulesFromDatabase(ctx, repo, ruleEngine); err != nil {
		return err
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.RulesCount())

	scorer, err := engine.New(cfg.Scoring, engine.Options{
		Rules:      ruleEngine,
		Alerts:     dispatcher,
		Metrics:    aggregator,
		Locations:  history.NewService(cacheImpl, cfg.Scoring.LocationTTL),
		Repository: repo,
		Outbox:     box,
		Collectors: collectorSet,
		Version:    engine.Version + "+" + Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scoring engine: %w", err)
	}
	slog.Info("scoring engine initialized",
		"timeout", cfg.Scoring.Timeout,
		"timezone", cfg.Scoring.Timezone,
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, scorer)
		if err := asyncWorker.Start(cfg.Worker.Tenants); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	var streamHandler *stream.Handler
	serverOpts := api.Options{Gatherer: registry}
	if cfg.Stream.Enabled {
		streamHandler = stream.NewHandler(scorer, cfg.Stream, collectorSet)
		serverOpts.Stream = streamHandler
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Engine:     scorer,
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Aggregator: aggregator,
		Collectors: collectorSet,
		Version:    Version,
	}, serverOpts)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
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
	case err := <-serverErr:
		slog.Error("server failed", "error", err)
	}

	// Stop intake first, then drain side effects.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}
	if streamHandler != nil {
		streamHandler.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	stopAggregator()
	aggregator.Flush(shutdownCtx)
	if err := box.Close(shutdownCtx); err != nil {
		slog.Error("delivery queue did not drain", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return nil
}

func setupLogging(cfg domain.LoggingConfig) {
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

func newDeduper(cfg domain.AlertConfig, c domain.Cache) alert.Deduper {
	if cfg.DistributedDedup {
		return alert.NewCacheDeduper(c)
	}
	return alert.NewMemoryDeduper(time.Now)
}

func alertSinks(cfg domain.AlertConfig, repo domain.Repository, b domain.EventBus) []alert.Sink {
	sinks := []alert.Sink{
		&alert.RepositorySink{Repo: repo},
		&alert.BusSink{Bus: b},
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, alert.NewWebhookSink(cfg.WebhookURL, cfg.WebhookTimeout))
		slog.Info("alert webhook enabled", "url", cfg.WebhookURL)
	}
	return sinks
}

// loadRulesFromDatabase loads every tenant's factor rules into the engine.
// Rules are managed through the /rules API; an empty table is normal.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListAllFactorRules(ctx)
	if err != nil {
		slog.Warn("failed to list factor rules from database", "error", err)
		return nil
	}

	if len(dbRules) == 0 {
		slog.Info("no factor rules in database - configure via POST /rules API")
		return nil
	}

	slog.Info("loading factor rules from database", "count", len(dbRules))
	if err := engine.ReloadRules(dbRules); err != nil {
		return fmt.Errorf("failed to load factor rules: %w", err)
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	addr := "http://" + cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	fmt.Println()
	fmt.Println("  KESTREL - fraud scoring for transactions and biometrics")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   %s\n", addr)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score/transaction     - Score a transaction")
	fmt.Println("    POST /score/biometric       - Score a biometric sample")
	fmt.Println("    POST /ingest/transaction    - Queue a transaction for async scoring")
	fmt.Println("    POST /ingest/biometric      - Queue a biometric sample for async scoring")
	fmt.Println("    GET  /results/{id}          - Get a scored result")
	fmt.Println("    POST /results/{id}/replay   - Re-score a stored result")
	fmt.Println("    GET  /alerts                - List alerts")
	fmt.Println("    GET  /rules                 - List factor rules")
	fmt.Println("    POST /rules/reload          - Hot-reload factor rules")
	fmt.Println("    GET  /analytics/dashboard   - Metrics, trends and open alerts")
	if cfg.Stream.Enabled {
		fmt.Println("    GET  /stream                - WebSocket scoring stream")
	}
	fmt.Println("    GET  /metrics               - Prometheus metrics")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
