// Command cadenced runs a cadence worker: it polls for due schedule
// instances, dispatches their content, and processes the resulting jobs.
// Configuration comes from the environment; see workerConfig for the
// recognized variables.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/engine"
	"github.com/dimagi/cadence/store"
	"github.com/dimagi/cadence/store/memory"
	"github.com/dimagi/cadence/store/postgres"
	"github.com/dimagi/cadence/store/redis"
)

type workerConfig struct {
	// Store selects the backend: "postgres", "redis", or "memory".
	Store string `env:"CADENCE_STORE, default=postgres"`

	// Postgres topology. Shard URLs are comma separated and optional;
	// without them instances live on the primary.
	PostgresURL    string   `env:"CADENCE_POSTGRES_URL"`
	PostgresShards []string `env:"CADENCE_POSTGRES_SHARD_URLS"`

	// Redis connection.
	RedisAddr     string `env:"CADENCE_REDIS_ADDR"`
	RedisPassword string `env:"CADENCE_REDIS_PASSWORD"`

	Concurrency     int           `env:"CADENCE_CONCURRENCY, default=10"`
	Queues          []string      `env:"CADENCE_QUEUES, default=default"`
	PollInterval    time.Duration `env:"CADENCE_POLL_INTERVAL, default=15s"`
	LockTTL         time.Duration `env:"CADENCE_LOCK_TTL, default=1h"`
	AlertStaleness  time.Duration `env:"CADENCE_ALERT_STALENESS, default=2h"`
	ShutdownTimeout time.Duration `env:"CADENCE_SHUTDOWN_TIMEOUT, default=30s"`

	LogLevel string `env:"CADENCE_LOG_LEVEL, default=info"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("cadenced exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	var cfg workerConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			logger.Warn("store close error", slog.String("error", closeErr.Error()))
		}
	}()

	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	eng, err := engine.New(s,
		engine.WithLogger(logger),
		engine.WithConfig(cadence.Config{
			Concurrency:     cfg.Concurrency,
			Queues:          cfg.Queues,
			PollInterval:    cfg.PollInterval,
			LockTTL:         cfg.LockTTL,
			AlertStaleness:  cfg.AlertStaleness,
			ShutdownTimeout: cfg.ShutdownTimeout,
		}),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	logger.Info("cadenced started",
		slog.String("store", cfg.Store),
		slog.Int("concurrency", cfg.Concurrency),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", slog.String("signal", sig.String()))

	return eng.Stop(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openStore(ctx context.Context, cfg workerConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("CADENCE_POSTGRES_URL is required for the postgres store")
		}
		s, err := postgres.New(ctx, postgres.Config{
			PrimaryURL: cfg.PostgresURL,
			ShardURLs:  cfg.PostgresShards,
		}, postgres.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil

	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("CADENCE_REDIS_ADDR is required for the redis store")
		}
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return redis.New(client, redis.WithLogger(logger)), nil

	case "memory":
		// Dev only: state disappears on restart.
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
