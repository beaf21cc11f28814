// Package postgres implements store.Store using PostgreSQL via pgx/v5.
// Schedules, jobs, and dispatch leases live on a primary database;
// schedule instances are horizontally partitioned across shard databases,
// routed by a hash of (domain, recipient id). The due scan fans out to
// every shard and merges the results.
//
// With no shard URLs configured the primary doubles as the single shard.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dimagi/cadence/instance"
	"github.com/dimagi/cadence/job"
	"github.com/dimagi/cadence/lock"
	"github.com/dimagi/cadence/schedule"
)

//go:embed migrations/primary/*.sql migrations/shard/*.sql
var migrationsFS embed.FS

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ schedule.Store = (*Store)(nil)
	_ instance.Store = (*Store)(nil)
	_ job.Store      = (*Store)(nil)
	_ lock.Store     = (*Store)(nil)
)

// Config describes the database topology.
type Config struct {
	// PrimaryURL is the connection URL for schedules, jobs, and leases.
	PrimaryURL string

	// ShardURLs are the connection URLs for instance shards, in shard
	// order. The order is part of the routing function: reordering the
	// list reroutes every instance. Leave empty to keep instances on
	// the primary.
	ShardURLs []string
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store is a PostgreSQL implementation of store.Store using pgx/v5.
// It uses pgxpool for connection pooling and SKIP LOCKED for
// concurrent-safe job dequeue.
type Store struct {
	primary *pgxpool.Pool
	shards  []*pgxpool.Pool
	logger  *slog.Logger
}

// New connects to the primary and every configured shard.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	primary, err := connect(ctx, cfg.PrimaryURL)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: primary: %w", err)
	}

	s := &Store{
		primary: primary,
		logger:  slog.Default(),
	}

	if len(cfg.ShardURLs) == 0 {
		s.shards = []*pgxpool.Pool{primary}
	} else {
		for i, url := range cfg.ShardURLs {
			pool, connErr := connect(ctx, url)
			if connErr != nil {
				s.Close()
				return nil, fmt.Errorf("cadence/postgres: shard %d: %w", i, connErr)
			}
			s.shards = append(s.shards, pool)
		}
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewFromPools creates a Store from existing pools. Handy for tests and
// callers that manage pool lifecycle themselves.
func NewFromPools(primary *pgxpool.Pool, shards []*pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		primary: primary,
		shards:  shards,
		logger:  slog.Default(),
	}
	if len(s.shards) == 0 {
		s.shards = []*pgxpool.Pool{primary}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return pool, nil
}

// shardFor routes an instance to its shard pool.
func (s *Store) shardFor(domain, recipientID string) *pgxpool.Pool {
	idx := int(instance.ShardKey(domain, recipientID)) % len(s.shards)
	return s.shards[idx]
}

// Migrate runs the embedded SQL migration files: primary migrations on
// the primary, shard migrations on every shard.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.migrateDir(ctx, s.primary, "migrations/primary"); err != nil {
		return err
	}
	for i, shard := range s.shards {
		if err := s.migrateDir(ctx, shard, "migrations/shard"); err != nil {
			return fmt.Errorf("shard %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) migrateDir(ctx context.Context, pool *pgxpool.Pool, dir string) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cadence_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("cadence/postgres: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("cadence/postgres: read migrations: %w", err)
	}

	// Sort by filename for deterministic order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		err = pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM cadence_migrations WHERE filename = $1)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("cadence/postgres: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		data, readErr := fs.ReadFile(migrationsFS, dir+"/"+entry.Name())
		if readErr != nil {
			return fmt.Errorf("cadence/postgres: read migration %s: %w", entry.Name(), readErr)
		}

		if _, execErr := pool.Exec(ctx, string(data)); execErr != nil {
			return fmt.Errorf("cadence/postgres: execute migration %s: %w", entry.Name(), execErr)
		}

		if _, recErr := pool.Exec(ctx,
			`INSERT INTO cadence_migrations (filename) VALUES ($1)`,
			entry.Name(),
		); recErr != nil {
			return fmt.Errorf("cadence/postgres: record migration %s: %w", entry.Name(), recErr)
		}

		s.logger.Info("applied migration", slog.String("file", entry.Name()))
	}
	return nil
}

// Ping checks connectivity to the primary and every shard.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.primary.Ping(ctx); err != nil {
		return fmt.Errorf("cadence/postgres: primary ping: %w", err)
	}
	for i, shard := range s.shards {
		if shard == s.primary {
			continue
		}
		if err := shard.Ping(ctx); err != nil {
			return fmt.Errorf("cadence/postgres: shard %d ping: %w", i, err)
		}
	}
	return nil
}

// Close closes every connection pool.
func (s *Store) Close() error {
	for _, shard := range s.shards {
		if shard != s.primary {
			shard.Close()
		}
	}
	if s.primary != nil {
		s.primary.Close()
	}
	return nil
}

// Primary returns the primary pool for advanced usage.
func (s *Store) Primary() *pgxpool.Pool { return s.primary }
