// Package processor executes enqueued schedule instance occurrences.
//
// The poller enqueues a small payload, not the instance itself. The
// processor reloads the instance fresh from the store and re-verifies
// that the occurrence is still the one to run: the instance may have
// been deleted, deactivated, or recomputed to a different due time in
// the interval between poll and execution. Only a verified occurrence
// is handled.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/content"
	"github.com/dimagi/cadence/instance"
	"github.com/dimagi/cadence/recipient"
	"github.com/dimagi/cadence/schedule"
)

// JobName is the job type the poller enqueues due occurrences under.
const JobName = "cadence.process_instance"

// MigrationGate reports whether dispatch for a domain is paused, for
// example while the domain's data is mid-migration between backends.
// A paused occurrence is skipped without advancing the instance; it
// fires again once the gate opens and the lease expires.
type MigrationGate func(domain string) bool

// Option configures a Processor.
type Option func(*Processor)

// WithMigrationGate installs a dispatch pause check.
func WithMigrationGate(gate MigrationGate) Option {
	return func(p *Processor) { p.gate = gate }
}

// WithAlertStaleness sets the age beyond which a due alert event is
// skipped instead of delivered.
func WithAlertStaleness(d time.Duration) Option {
	return func(p *Processor) { p.alertStaleness = d }
}

// WithClock overrides the processor's clock. For tests.
func WithClock(clock func() time.Time) Option {
	return func(p *Processor) { p.clock = clock }
}

// Processor reloads, re-verifies, and handles due occurrences.
type Processor struct {
	instances instance.Store
	schedules schedule.Store
	resolver  *recipient.Resolver
	sender    content.Sender
	emitter   instance.Emitter
	logger    *slog.Logger

	gate           MigrationGate
	alertStaleness time.Duration
	clock          func() time.Time
}

// New creates a Processor.
func New(
	instances instance.Store,
	schedules schedule.Store,
	resolver *recipient.Resolver,
	sender content.Sender,
	emitter instance.Emitter,
	logger *slog.Logger,
	opts ...Option,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		instances:      instances,
		schedules:      schedules,
		resolver:       resolver,
		sender:         sender,
		emitter:        emitter,
		logger:         logger,
		alertStaleness: 2 * time.Hour,
		clock:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one enqueued occurrence. A payload that no longer
// matches the stored instance is dropped silently: the instance moved
// on and the current state is authoritative.
func (p *Processor) Process(ctx context.Context, occ instance.DueOccurrence) error {
	if p.gate != nil && p.gate(occ.Domain) {
		p.logger.Info("dispatch paused for domain, occurrence skipped",
			slog.String("domain", occ.Domain),
			slog.String("instance_id", occ.InstanceID.String()),
		)
		return nil
	}

	si, err := p.instances.GetInstance(ctx, occ.Domain, occ.InstanceID)
	if err != nil {
		if errors.Is(err, cadence.ErrInstanceNotFound) {
			// Deleted between poll and execution.
			return nil
		}
		return fmt.Errorf("cadence/processor: reload instance: %w", err)
	}

	now := p.clock()
	if !si.Active {
		return nil
	}
	if !si.NextEventDue.Equal(occ.Due) {
		// The instance was recomputed or already handled; this payload
		// describes a stale occurrence.
		return nil
	}
	if si.NextEventDue.After(now) {
		return nil
	}

	s, err := p.schedules.GetSchedule(ctx, si.ScheduleID)
	if err != nil {
		return fmt.Errorf("cadence/processor: load schedule %s: %w", si.ScheduleID, err)
	}
	si.Attach(s, s.Location(p.resolver.TimezoneName(ctx, si.Recipient)))

	env := &instance.Env{
		Resolver:       p.resolver,
		Sender:         p.sender,
		Store:          p.instances,
		Emitter:        p.emitter,
		Logger:         p.logger,
		Props:          p.propsFor(ctx, si.Recipient),
		AlertStaleness: p.alertStaleness,
		Now:            p.clock,
	}
	return si.HandleCurrentEvent(ctx, env)
}

func (p *Processor) propsFor(ctx context.Context, ref recipient.Ref) schedule.PropertySource {
	if ref.Type != recipient.TypeCase {
		return nil
	}
	return p.resolver.CaseProps(ctx, ref.ID)
}
