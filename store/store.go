// Package store defines the aggregate persistence interface. Each
// subsystem (schedule, instance, job, lock) defines its own store
// interface. The composite Store composes them all. Backends:
// Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/dimagi/cadence/instance"
	"github.com/dimagi/cadence/job"
	"github.com/dimagi/cadence/lock"
	"github.com/dimagi/cadence/schedule"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, redis, memory) implements all of them.
type Store interface {
	schedule.Store
	instance.Store
	job.Store
	lock.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
