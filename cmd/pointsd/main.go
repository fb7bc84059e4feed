// Command pointsd serves the point ledger over HTTP and runs the renewal
// and expiry sweeps. Settings come from POINTS_* environment variables.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/api"
	audithook "github.com/xraph/pointledger/audit_hook"
	"github.com/xraph/pointledger/config"
	"github.com/xraph/pointledger/eventbus"
	"github.com/xraph/pointledger/eventbus/dedupe"
	"github.com/xraph/pointledger/eventbus/rabbitmq"
	"github.com/xraph/pointledger/observability"
	"github.com/xraph/pointledger/plugin"
	"github.com/xraph/pointledger/scheduler"
	"github.com/xraph/pointledger/store"
	"github.com/xraph/pointledger/store/memory"
	"github.com/xraph/pointledger/store/pgxstore"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("pointsd exited", "error", err)
		os.Exit(1)
	}
	logger.Info("pointsd stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	seen, err := openDedupe(ctx, cfg, logger)
	if err != nil {
		return err
	}

	plugins := plugin.NewRegistry().WithLogger(logger)
	_ = plugins.Register(observability.NewMetricsExtension(observability.NewPrometheusFactory(prometheus.DefaultRegisterer)))
	_ = plugins.Register(audithook.New(audithook.RecorderFunc(func(_ context.Context, e *audithook.AuditEvent) error {
		logger.Info("audit",
			"action", e.Action,
			"resource", e.Resource,
			"resource_id", e.ResourceID,
			"outcome", e.Outcome,
			"severity", e.Severity,
			"metadata", e.Metadata,
		)
		return nil
	}), audithook.WithLogger(logger)))

	router := eventbus.NewRouter(
		eventbus.WithRouterLogger(logger),
		eventbus.WithDedupe(seen),
	)
	transport, err := openTransport(ctx, cfg, router, logger)
	if err != nil {
		return err
	}
	bus := eventbus.New(router, transport,
		eventbus.WithLogger(logger),
		eventbus.WithPlugins(plugins),
	)

	ledger := pointledger.New(st,
		pointledger.WithLogger(logger),
		pointledger.WithPluginRegistry(plugins),
		pointledger.WithBus(bus),
		pointledger.WithMaxRenewalAttempts(cfg.MaxRenewalAttempts),
		pointledger.WithRetryInterval(cfg.RetryInterval),
		pointledger.WithSweepBatch(cfg.SweepBatch),
	)
	if err := ledger.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := ledger.Stop(); err != nil {
			logger.Error("ledger shutdown failed", "error", err)
		}
	}()

	if !cfg.DisableScheduler {
		sched := scheduler.New(ledger, logger, scheduler.Config{
			RenewalSchedule: cfg.RenewalSchedule,
			ExpirySchedule:  cfg.ExpirySchedule,
		})
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
	}

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.NewHandler(ledger, logger), api.RouterConfig{
			CORSOrigins: cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, gracefully shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("POINTS_DATABASE_URL not set, balances are kept in memory")
		return memory.New(), nil
	}
	s, err := pgxstore.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, err
	}
	logger.Info("database connection established")
	return s, nil
}

func openDedupe(ctx context.Context, cfg config.Config, logger *slog.Logger) (dedupe.Store, error) {
	if cfg.RedisURL == "" {
		return dedupe.NewMemory(0, cfg.DedupeTTL), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	logger.Info("redis dedupe store connected")
	return dedupe.NewRedis(client, dedupe.WithTTL(cfg.DedupeTTL)), nil
}

func openTransport(ctx context.Context, cfg config.Config, router *eventbus.Router, logger *slog.Logger) (eventbus.Transport, error) {
	if cfg.RabbitMQURL == "" {
		return eventbus.NewMemoryTransport(eventbus.DefaultMemoryConfig(), logger), nil
	}
	t, err := rabbitmq.New(ctx, rabbitmq.Config{
		URL:      cfg.RabbitMQURL,
		Exchange: cfg.RabbitMQExchange,
		Queue:    cfg.RabbitMQQueue,
	}, router, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("rabbitmq transport connected", "exchange", cfg.RabbitMQExchange)
	return t, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
