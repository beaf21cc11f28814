package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dimagi/cadence/ext"
	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/instance"
	"github.com/dimagi/cadence/job"
	"github.com/dimagi/cadence/recipient"
)

// meterName is the instrumentation scope name for cadence metrics.
const meterName = "github.com/dimagi/cadence/observability"

// Compile-time interface checks.
var (
	_ ext.Extension           = (*MetricsExtension)(nil)
	_ ext.JobEnqueued         = (*MetricsExtension)(nil)
	_ ext.JobCompleted        = (*MetricsExtension)(nil)
	_ ext.JobFailed           = (*MetricsExtension)(nil)
	_ ext.InstanceEnqueued    = (*MetricsExtension)(nil)
	_ ext.MessageSent         = (*MetricsExtension)(nil)
	_ ext.MessageFailed       = (*MetricsExtension)(nil)
	_ ext.StaleEventSkipped   = (*MetricsExtension)(nil)
	_ ext.InstanceDeactivated = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OTel
// counters. Register it as a Cadence extension to automatically track
// enqueue rates, completion counts, failure rates, message deliveries,
// stale skips, and instance deactivations. Message counters carry a
// domain attribute so busy project spaces are visible on dashboards.
//
// If no MeterProvider is configured globally, the instruments are noop
// and the extension has zero overhead.
type MetricsExtension struct {
	jobEnqueued         metric.Int64Counter
	jobCompleted        metric.Int64Counter
	jobFailed           metric.Int64Counter
	instanceEnqueued    metric.Int64Counter
	messageSent         metric.Int64Counter
	messageFailed       metric.Int64Counter
	staleEventSkipped   metric.Int64Counter
	instanceDeactivated metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific
// MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		_ = err // noop fallback guaranteed by OTel API contract
		return c
	}
	return &MetricsExtension{
		jobEnqueued:         counter("cadence.job.enqueued", "Jobs accepted into the queue"),
		jobCompleted:        counter("cadence.job.completed", "Jobs finished successfully"),
		jobFailed:           counter("cadence.job.failed", "Jobs that failed"),
		instanceEnqueued:    counter("cadence.instance.enqueued", "Due occurrences enqueued by the poller"),
		messageSent:         counter("cadence.message.sent", "Messages delivered to contacts"),
		messageFailed:       counter("cadence.message.failed", "Message delivery failures"),
		staleEventSkipped:   counter("cadence.event.stale_skipped", "Stale alert events advanced without delivery"),
		instanceDeactivated: counter("cadence.instance.deactivated", "Schedule instances transitioned to inactive"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.jobEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", j.Queue)))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.jobCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", j.Queue)))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", j.Queue)))
	return nil
}

// ── Dispatch lifecycle hooks ────────────────────────

// OnInstanceEnqueued implements ext.InstanceEnqueued.
func (m *MetricsExtension) OnInstanceEnqueued(ctx context.Context, occ instance.DueOccurrence, _ id.JobID) error {
	m.instanceEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("domain", occ.Domain)))
	return nil
}

// OnMessageSent implements ext.MessageSent.
func (m *MetricsExtension) OnMessageSent(ctx context.Context, si *instance.ScheduleInstance, _ recipient.Contact) error {
	m.messageSent.Add(ctx, 1, metric.WithAttributes(attribute.String("domain", si.Domain)))
	return nil
}

// OnMessageFailed implements ext.MessageFailed.
func (m *MetricsExtension) OnMessageFailed(ctx context.Context, si *instance.ScheduleInstance, _ recipient.Contact, _ error) error {
	m.messageFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("domain", si.Domain)))
	return nil
}

// OnStaleEventSkipped implements ext.StaleEventSkipped.
func (m *MetricsExtension) OnStaleEventSkipped(ctx context.Context, si *instance.ScheduleInstance) error {
	m.staleEventSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("domain", si.Domain)))
	return nil
}

// OnInstanceDeactivated implements ext.InstanceDeactivated.
func (m *MetricsExtension) OnInstanceDeactivated(ctx context.Context, si *instance.ScheduleInstance) error {
	m.instanceDeactivated.Add(ctx, 1, metric.WithAttributes(attribute.String("domain", si.Domain)))
	return nil
}
