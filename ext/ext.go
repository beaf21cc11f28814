// Package ext defines the extension system for Cadence.
// Extensions are notified of lifecycle events (job enqueued, message
// sent, instance deactivated, etc.) and can react to them — logging,
// metrics, audit trails, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/instance"
	"github.com/dimagi/cadence/job"
	"github.com/dimagi/cadence/recipient"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Dispatch lifecycle hooks
// ──────────────────────────────────────────────────

// InstanceEnqueued is called when the poller wins the lease for a due
// occurrence and enqueues its processing job.
type InstanceEnqueued interface {
	OnInstanceEnqueued(ctx context.Context, occ instance.DueOccurrence, jobID id.JobID) error
}

// MessageSent is called after content is delivered to a contact.
type MessageSent interface {
	OnMessageSent(ctx context.Context, si *instance.ScheduleInstance, contact recipient.Contact) error
}

// MessageFailed is called when a delivery attempt to a contact fails.
type MessageFailed interface {
	OnMessageFailed(ctx context.Context, si *instance.ScheduleInstance, contact recipient.Contact, err error) error
}

// StaleEventSkipped is called when a due alert event is past the
// staleness threshold and advances without delivering.
type StaleEventSkipped interface {
	OnStaleEventSkipped(ctx context.Context, si *instance.ScheduleInstance) error
}

// InstanceDeactivated is called when an instance transitions to
// inactive: iterations exhausted, stop condition reached, or the
// schedule itself deactivated.
type InstanceDeactivated interface {
	OnInstanceDeactivated(ctx context.Context, si *instance.ScheduleInstance) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
