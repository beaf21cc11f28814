// Package poller implements the periodic scan that turns due schedule
// instances into dispatch jobs.
//
// Every process runs a poller; there is no leader election. Pollers
// race per occurrence instead: each due occurrence is guarded by a
// dispatch lease, and only the poller that wins the lease enqueues the
// job. A poller losing the race is the normal case in a multi-node
// deployment, not an error.
package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/instance"
	"github.com/dimagi/cadence/job"
	"github.com/dimagi/cadence/lock"
)

// EnqueueFunc is the callback the poller uses to enqueue jobs.
// This breaks the import cycle: the engine provides the implementation.
type EnqueueFunc func(ctx context.Context, name string, payload []byte, opts ...job.Option) (id.JobID, error)

// Emitter emits poller lifecycle events.
// ext.Registry satisfies this interface via EmitInstanceEnqueued.
type Emitter interface {
	EmitInstanceEnqueued(ctx context.Context, occ instance.DueOccurrence, jobID id.JobID)
}

// Option configures a Poller.
type Option func(*Poller)

// WithPollInterval sets how often the poller scans for due instances.
func WithPollInterval(d time.Duration) Option {
	return func(p *Poller) { p.pollInterval = d }
}

// WithLockTTL sets the TTL for per-occurrence dispatch leases.
func WithLockTTL(d time.Duration) Option {
	return func(p *Poller) { p.lockTTL = d }
}

// WithJobName sets the job name due occurrences are enqueued under.
func WithJobName(name string) Option {
	return func(p *Poller) { p.jobName = name }
}

// Poller scans for due schedule instances on a tick loop and enqueues a
// processing job for each occurrence it wins the lease for.
type Poller struct {
	instances instance.Store
	leases    lock.Store
	enqueue   EnqueueFunc
	emitter   Emitter
	workerID  id.WorkerID
	logger    *slog.Logger

	pollInterval time.Duration
	lockTTL      time.Duration
	jobName      string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Poller.
func New(
	instances instance.Store,
	leases lock.Store,
	enqueue EnqueueFunc,
	emitter Emitter,
	workerID id.WorkerID,
	logger *slog.Logger,
	opts ...Option,
) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		instances:    instances,
		leases:       leases,
		enqueue:      enqueue,
		emitter:      emitter,
		workerID:     workerID,
		logger:       logger,
		pollInterval: 15 * time.Second,
		lockTTL:      1 * time.Hour,
		jobName:      "cadence.process_instance",
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the poll goroutine.
func (p *Poller) Start(_ context.Context) error {
	p.wg.Add(1)
	go p.pollLoop()
	p.logger.Info("poller started",
		slog.String("worker_id", p.workerID.String()),
		slog.Duration("poll_interval", p.pollInterval),
	)
	return nil
}

// Stop signals the poller to stop and waits for the goroutine to finish.
func (p *Poller) Stop(_ context.Context) error {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("poller stopped")
	return nil
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	// Scan once immediately at start.
	p.Poll(context.Background())

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Poll(context.Background())
		}
	}
}

// Poll runs one scan: every occurrence due now is raced for via the
// dispatch lease and, if won, enqueued. Exported so tests and one-shot
// tools can drive the poller without the tick loop.
func (p *Poller) Poll(ctx context.Context) {
	now := time.Now().UTC()
	due, err := p.instances.DueInstances(ctx, now)
	if err != nil {
		p.logger.Error("due instance scan error", slog.String("error", err.Error()))
		return
	}

	for _, occ := range due {
		p.fireOccurrence(ctx, occ)
	}
}

func (p *Poller) fireOccurrence(ctx context.Context, occ instance.DueOccurrence) {
	key := lock.Key(lock.ClassInstance, occ.InstanceID, occ.Due)
	acquired, err := p.leases.AcquireLease(ctx, key, p.workerID, p.lockTTL)
	if err != nil {
		p.logger.Error("acquire dispatch lease error",
			slog.String("instance_id", occ.InstanceID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !acquired {
		return // Another poller got it.
	}

	payload, err := json.Marshal(occ)
	if err != nil {
		p.logger.Error("marshal occurrence error",
			slog.String("instance_id", occ.InstanceID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	jobID, enqErr := p.enqueue(ctx, p.jobName, payload, job.WithDomain(occ.Domain))
	if enqErr != nil {
		// The lease is held until its TTL expires, so this occurrence
		// will not fire again soon. The instance stays due and a later
		// scan retries once the lease lapses.
		p.logger.Error("enqueue occurrence error",
			slog.String("instance_id", occ.InstanceID.String()),
			slog.String("error", enqErr.Error()),
		)
		return
	}

	if p.emitter != nil {
		p.emitter.EmitInstanceEnqueued(ctx, occ, jobID)
	}

	p.logger.Info("instance occurrence enqueued",
		slog.String("instance_id", occ.InstanceID.String()),
		slog.String("domain", occ.Domain),
		slog.Time("due", occ.Due),
		slog.String("job_id", jobID.String()),
	)
}
