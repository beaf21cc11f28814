// Package engine wires all cadence subsystems together: the extension
// registry, job registry, middleware chain, worker pool, dispatch poller,
// and the instance processor. It exposes the public schedule operations.
//
// This package sits above all subsystem packages and below the
// application layer, which keeps the root package import-cycle free.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/content"
	"github.com/dimagi/cadence/ext"
	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/instance"
	"github.com/dimagi/cadence/job"
	mw "github.com/dimagi/cadence/middleware"
	"github.com/dimagi/cadence/observability"
	"github.com/dimagi/cadence/poller"
	"github.com/dimagi/cadence/processor"
	"github.com/dimagi/cadence/queue"
	"github.com/dimagi/cadence/recipient"
	"github.com/dimagi/cadence/schedule"
	"github.com/dimagi/cadence/store"
	"github.com/dimagi/cadence/worker"
)

// Engine is the assembled dispatch engine. Build one with New, register
// extra job definitions if needed, then Start it.
type Engine struct {
	cfg        cadence.Config
	store      store.Store
	logger     *slog.Logger
	extensions *ext.Registry
	registry   *job.Registry

	directory recipient.Directory
	resolver  *recipient.Resolver
	sender    content.Sender
	refresher *instance.Refresher
	processor *processor.Processor
	poller    *poller.Poller
	pool      *worker.Pool

	mws           []mw.Middleware
	queueConfigs  []queue.Config
	domainConfigs []queue.DomainConfig
	queueManager  *queue.Manager
	gate          processor.MigrationGate

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default engine configuration.
func WithConfig(cfg cadence.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = logger }
}

// WithDirectory sets the recipient directory the resolver reads from.
// Without one, schedules can only target direct contact refs that the
// nil directory cannot resolve, so production engines always set this.
func WithDirectory(dir recipient.Directory) Option {
	return func(eng *Engine) { eng.directory = dir }
}

// WithSender sets the content sender. Defaults to a log-only sender.
func WithSender(s content.Sender) Option {
	return func(eng *Engine) { eng.sender = s }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware adds middleware to the engine's chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithDomainConfig registers per-domain rate limiting and concurrency
// within a queue.
func WithDomainConfig(configs ...queue.DomainConfig) Option {
	return func(eng *Engine) { eng.domainConfigs = append(eng.domainConfigs, configs...) }
}

// WithMigrationGate sets the per-domain dispatch pause predicate.
func WithMigrationGate(gate processor.MigrationGate) Option {
	return func(eng *Engine) { eng.gate = gate }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New assembles an Engine on top of a store.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, cadence.ErrNoStore
	}

	eng := &Engine{
		cfg:        cadence.DefaultConfig(),
		store:      s,
		logger:     slog.Default(),
		extensions: ext.NewRegistry(slog.Default()),
		registry:   job.NewRegistry(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}
	if eng.sender == nil {
		eng.sender = content.NewLogSender(eng.logger)
	}

	eng.resolver = recipient.NewResolver(eng.directory, eng.logger)
	eng.refresher = instance.NewRefresher(s, eng.resolver, eng.logger)

	procOpts := []processor.Option{
		processor.WithAlertStaleness(eng.cfg.AlertStaleness),
	}
	if eng.gate != nil {
		procOpts = append(procOpts, processor.WithMigrationGate(eng.gate))
	}
	eng.processor = processor.New(
		s, s, eng.resolver, eng.sender, eng.extensions, eng.logger,
		procOpts...,
	)

	// The processor job is the one dispatch consumer the pool always
	// has: the poller enqueues occurrences under this name.
	job.RegisterDefinition(eng.registry, job.NewDefinition(
		processor.JobName,
		func(ctx context.Context, occ instance.DueOccurrence) error {
			return eng.processor.Process(ctx, occ)
		},
	))

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/dimagi/cadence"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/dimagi/cadence"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/dimagi/cadence/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging →
	// domain → timeout, then caller middleware.
	allMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Domain(),
		mw.Timeout(eng.logger),
	}
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.extensions, s, eng.logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(eng.cfg.Concurrency),
		worker.WithPoolQueues(eng.cfg.Queues),
	}
	if len(eng.queueConfigs) > 0 || len(eng.domainConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		for _, dc := range eng.domainConfigs {
			eng.queueManager.SetDomainConfig(dc)
		}
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}
	eng.pool = worker.NewPool(s, executor, eng.extensions, eng.logger, poolOpts...)

	enqueueFunc := func(ctx context.Context, name string, payload []byte, jobOpts ...job.Option) (id.JobID, error) {
		j, err := eng.EnqueueRaw(ctx, name, payload, jobOpts...)
		if err != nil {
			return id.JobID{}, err
		}
		return j.ID, nil
	}
	eng.poller = poller.New(
		s, s, enqueueFunc, eng.extensions, eng.pool.WorkerID(), eng.logger,
		poller.WithPollInterval(eng.cfg.PollInterval),
		poller.WithLockTTL(eng.cfg.LockTTL),
	)

	return eng, nil
}

// ─── Schedule operations ───

// CreateSchedule validates and persists a new schedule, then materializes
// instances for the given recipients. An ID is assigned when missing.
func (eng *Engine) CreateSchedule(ctx context.Context, s *schedule.Schedule, recipients []recipient.Ref) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.ID.IsNil() {
		s.ID = id.NewScheduleID()
	} else if _, err := eng.store.GetSchedule(ctx, s.ID); err == nil {
		return cadence.ErrScheduleAlreadyExists
	} else if !errors.Is(err, cadence.ErrScheduleNotFound) {
		return err
	}
	s.Entity = cadence.NewEntity()
	s.Active = true

	if err := eng.store.PutSchedule(ctx, s); err != nil {
		return err
	}
	eng.logger.Info("schedule created",
		slog.String("schedule_id", s.ID.String()),
		slog.String("domain", s.Domain),
		slog.Int("recipients", len(recipients)),
	)
	return eng.refresher.Refresh(ctx, s, recipients, schedule.Date{})
}

// UpdateSchedule persists an edited schedule and refreshes its instances
// against the desired recipient set. A non-zero explicitStart re-anchors
// existing instances.
func (eng *Engine) UpdateSchedule(ctx context.Context, s *schedule.Schedule, recipients []recipient.Ref, explicitStart schedule.Date) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.Touch()
	if err := eng.store.PutSchedule(ctx, s); err != nil {
		return err
	}
	return eng.refresher.Refresh(ctx, s, recipients, explicitStart)
}

// Refresh reconciles a schedule's instances against the desired
// recipient set without touching the schedule itself.
func (eng *Engine) Refresh(ctx context.Context, scheduleID id.ScheduleID, recipients []recipient.Ref, explicitStart schedule.Date) error {
	s, err := eng.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	return eng.refresher.Refresh(ctx, s, recipients, explicitStart)
}

// Deactivate pauses a schedule: the schedule is marked inactive and every
// instance is deactivated in place, keeping its position.
func (eng *Engine) Deactivate(ctx context.Context, scheduleID id.ScheduleID) error {
	return eng.setActive(ctx, scheduleID, false)
}

// Reactivate resumes a paused schedule. Instances catch up past missed
// occurrences; instances whose iterations are exhausted stay inactive.
func (eng *Engine) Reactivate(ctx context.Context, scheduleID id.ScheduleID) error {
	return eng.setActive(ctx, scheduleID, true)
}

func (eng *Engine) setActive(ctx context.Context, scheduleID id.ScheduleID, active bool) error {
	s, err := eng.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if s.Active == active {
		return nil
	}
	s.Active = active
	s.Touch()
	if err := eng.store.PutSchedule(ctx, s); err != nil {
		return err
	}

	// Re-sync the existing instances against the new flag.
	existing, err := eng.store.InstancesForSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	refs := make([]recipient.Ref, 0, len(existing))
	for _, si := range existing {
		refs = append(refs, si.Recipient)
	}
	return eng.refresher.Refresh(ctx, s, refs, schedule.Date{})
}

// DeleteSchedule removes a schedule and every instance of it.
func (eng *Engine) DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	if err := eng.store.DeleteInstancesForSchedule(ctx, scheduleID); err != nil {
		return err
	}
	return eng.store.DeleteSchedule(ctx, scheduleID)
}

// InstancesForSchedule returns all instances of a schedule.
func (eng *Engine) InstancesForSchedule(ctx context.Context, scheduleID id.ScheduleID) ([]*instance.ScheduleInstance, error) {
	return eng.store.InstancesForSchedule(ctx, scheduleID)
}

// InstancesForRecipient returns all instances scheduled against a
// recipient within a domain.
func (eng *Engine) InstancesForRecipient(ctx context.Context, domain string, ref recipient.Ref) ([]*instance.ScheduleInstance, error) {
	return eng.store.InstancesForRecipient(ctx, domain, ref)
}

// ─── Job operations ───

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and enqueues a job with a typed payload.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	jobOpts := job.DefaultOptions()
	for _, opt := range opts {
		opt(&jobOpts)
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:  cadence.NewEntity(),
		ID:      id.NewJobID(),
		Name:    name,
		Payload: payload,
		State:   job.StatePending,
		Queue:   jobOpts.Queue,
		Domain:  jobOpts.Domain,
		Timeout: jobOpts.Timeout,
		RunAt:   now,
	}
	if jobOpts.Domain == "" {
		// Inherit the ambient domain when the caller didn't set one.
		if d, ok := cadence.DomainFrom(ctx); ok {
			j.Domain = d
		}
	}
	if !jobOpts.RunAt.IsZero() {
		j.RunAt = jobOpts.RunAt
	}

	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// ─── Lifecycle ───

// Start verifies store connectivity, then starts the worker pool and the
// dispatch poller.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("cadence/engine: store ping: %w", err)
	}
	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("cadence/engine: start pool: %w", err)
	}
	if err := eng.poller.Start(ctx); err != nil {
		return fmt.Errorf("cadence/engine: start poller: %w", err)
	}
	return nil
}

// Stop gracefully shuts the engine down: the poller first so no new
// occurrences are enqueued, then the pool to drain in-flight jobs,
// then the extension shutdown hooks.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := eng.poller.Stop(ctx); err != nil {
		eng.logger.Error("poller stop error", slog.String("error", err.Error()))
	}
	err := eng.pool.Stop(ctx)
	eng.extensions.EmitShutdown(ctx)
	return err
}

// ─── Accessors ───

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Resolver returns the recipient resolver.
func (eng *Engine) Resolver() *recipient.Resolver { return eng.resolver }

// Poller returns the dispatch poller.
func (eng *Engine) Poller() *poller.Poller { return eng.poller }

// QueueManager returns the queue manager, or nil if no queue or domain
// configs were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
