package cadence

import "time"

// Config holds runtime configuration for a cadence worker process.
type Config struct {
	// Concurrency is the maximum number of instance-processing jobs
	// executed concurrently by the worker pool.
	Concurrency int

	// Queues is the list of job queues this process will poll.
	Queues []string

	// PollInterval is how often the dispatch poller scans for due
	// instances, and how often idle workers poll for jobs.
	PollInterval time.Duration

	// LockTTL is the lifetime of the per-occurrence distributed lock.
	// If a handler crashes after acquiring the lock, the occurrence is
	// re-picked-up once the TTL lapses.
	LockTTL time.Duration

	// AlertStaleness is the age beyond which a due one-shot (alert)
	// event is skipped rather than delivered. Prevents blasting a
	// backlog of missed alerts after an outage.
	AlertStaleness time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// before cancelling in-flight jobs.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		Queues:          []string{"default"},
		PollInterval:    15 * time.Second,
		LockTTL:         time.Hour,
		AlertStaleness:  2 * time.Hour,
		ShutdownTimeout: 30 * time.Second,
	}
}
