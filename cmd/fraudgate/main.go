// Fraudgate screens applications against prioritized fraud rules.
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
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/fraudgate/internal/action"
	"github.com/opensource-finance/fraudgate/internal/api"
	"github.com/opensource-finance/fraudgate/internal/audit"
	"github.com/opensource-finance/fraudgate/internal/bus"
	"github.com/opensource-finance/fraudgate/internal/cache"
	"github.com/opensource-finance/fraudgate/internal/config"
	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/opensource-finance/fraudgate/internal/events"
	"github.com/opensource-finance/fraudgate/internal/metrics"
	"github.com/opensource-finance/fraudgate/internal/notify"
	"github.com/opensource-finance/fraudgate/internal/repository"
	"github.com/opensource-finance/fraudgate/internal/rules"
	"github.com/opensource-finance/fraudgate/internal/screening"
	"github.com/opensource-finance/fraudgate/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (default $"+config.EnvPath+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting fraudgate",
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

	if err := run(cfg); err != nil {
		slog.Error("fraudgate stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("fraudgate shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *domain.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
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
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Rules: the store owns the snapshot the engine reads on every decision.
	compiler, err := rules.NewCompiler()
	if err != nil {
		return fmt.Errorf("failed to initialize rule compiler: %w", err)
	}
	store, err := rules.NewStore(ctx, repo, compiler, m)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if store.Snapshot().Len() == 0 {
		slog.Info("no enabled rules - configure via POST /api/rules")
	}
	engine := rules.NewEngine(store, action.NewDispatcher(), m)

	recorder := audit.NewRecorder(repo, cacheImpl, cfg.Cache.StatsTTL, m)
	forwarder := action.NewForwarder(busImpl, cfg.Routing, m)

	hub := notify.NewHub(cfg.Notify, busImpl, m)
	hub.Start(ctx)

	service := screening.NewService(engine, recorder, forwarder, hub)

	var busWorker *worker.Worker
	if cfg.Worker.Enabled {
		busWorker = worker.NewWorker(busImpl, service)
		if err := busWorker.Start(worker.Config{Topic: cfg.Worker.Topic}); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}

	var router *events.Router
	if cfg.Events.Enabled {
		executor := events.NewExecutor(busImpl, hub, &http.Client{Timeout: cfg.Events.WebhookTimeout}, m)
		router = events.NewRouter(busImpl, events.DefaultRules(cfg.Events), executor, m)
		if err := router.Start(cfg.Events.Topics); err != nil {
			return fmt.Errorf("failed to start event router: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Rules:     store,
		Audit:     recorder,
		Hub:       hub,
		Screening: service,
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Metrics:   m,
	}, cfg.Metrics.Path, Version)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	slog.Info("fraudgate is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"enabled_rules", store.Snapshot().Len(),
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Stop intake first, then end the streams so Shutdown is not held
	// open by connected dashboards.
	if busWorker != nil {
		if err := busWorker.Stop(); err != nil {
			slog.Error("failed to stop worker", "error", err)
		}
	}
	if router != nil {
		if err := router.Stop(); err != nil {
			slog.Error("failed to stop event router", "error", err)
		}
	}
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  FRAUDGATE  - rule-based application screening")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET    /api/rules                   - List rules")
	fmt.Println("    POST   /api/rules                   - Create a rule")
	fmt.Println("    PUT    /api/rules/{id}              - Update a rule")
	fmt.Println("    PATCH  /api/rules/{id}/toggle       - Enable or disable a rule")
	fmt.Println("    DELETE /api/rules/{id}              - Delete a rule")
	fmt.Println("    POST   /api/applications            - Screen an application")
	fmt.Println("    GET    /api/audit                   - Browse audit logs")
	fmt.Println("    GET    /api/audit/stats             - Decision statistics")
	fmt.Println("    POST   /api/notifications           - Publish a notification")
	fmt.Println("    GET    /api/notifications/stream    - Live notification stream")
	fmt.Println("    GET    /health                      - Health check")
	fmt.Println()
}
