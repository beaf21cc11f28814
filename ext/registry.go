package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/instance"
	"github.com/dimagi/cadence/job"
	"github.com/dimagi/cadence/recipient"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type instanceEnqueuedEntry struct {
	name string
	hook InstanceEnqueued
}

type messageSentEntry struct {
	name string
	hook MessageSent
}

type messageFailedEntry struct {
	name string
	hook MessageFailed
}

type staleEventSkippedEntry struct {
	name string
	hook StaleEventSkipped
}

type instanceDeactivatedEntry struct {
	name string
	hook InstanceDeactivated
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobEnqueued         []jobEnqueuedEntry
	jobStarted          []jobStartedEntry
	jobCompleted        []jobCompletedEntry
	jobFailed           []jobFailedEntry
	instanceEnqueued    []instanceEnqueuedEntry
	messageSent         []messageSentEntry
	messageFailed       []messageFailedEntry
	staleEventSkipped   []staleEventSkippedEntry
	instanceDeactivated []instanceDeactivatedEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(InstanceEnqueued); ok {
		r.instanceEnqueued = append(r.instanceEnqueued, instanceEnqueuedEntry{name, h})
	}
	if h, ok := e.(MessageSent); ok {
		r.messageSent = append(r.messageSent, messageSentEntry{name, h})
	}
	if h, ok := e.(MessageFailed); ok {
		r.messageFailed = append(r.messageFailed, messageFailedEntry{name, h})
	}
	if h, ok := e.(StaleEventSkipped); ok {
		r.staleEventSkipped = append(r.staleEventSkipped, staleEventSkippedEntry{name, h})
	}
	if h, ok := e.(InstanceDeactivated); ok {
		r.instanceDeactivated = append(r.instanceDeactivated, instanceDeactivatedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Dispatch event emitters
// ──────────────────────────────────────────────────

// EmitInstanceEnqueued notifies all extensions that implement InstanceEnqueued.
func (r *Registry) EmitInstanceEnqueued(ctx context.Context, occ instance.DueOccurrence, jobID id.JobID) {
	for _, e := range r.instanceEnqueued {
		if err := e.hook.OnInstanceEnqueued(ctx, occ, jobID); err != nil {
			r.logHookError("OnInstanceEnqueued", e.name, err)
		}
	}
}

// EmitMessageSent notifies all extensions that implement MessageSent.
func (r *Registry) EmitMessageSent(ctx context.Context, si *instance.ScheduleInstance, contact recipient.Contact) {
	for _, e := range r.messageSent {
		if err := e.hook.OnMessageSent(ctx, si, contact); err != nil {
			r.logHookError("OnMessageSent", e.name, err)
		}
	}
}

// EmitMessageFailed notifies all extensions that implement MessageFailed.
func (r *Registry) EmitMessageFailed(ctx context.Context, si *instance.ScheduleInstance, contact recipient.Contact, sendErr error) {
	for _, e := range r.messageFailed {
		if err := e.hook.OnMessageFailed(ctx, si, contact, sendErr); err != nil {
			r.logHookError("OnMessageFailed", e.name, err)
		}
	}
}

// EmitStaleEventSkipped notifies all extensions that implement StaleEventSkipped.
func (r *Registry) EmitStaleEventSkipped(ctx context.Context, si *instance.ScheduleInstance) {
	for _, e := range r.staleEventSkipped {
		if err := e.hook.OnStaleEventSkipped(ctx, si); err != nil {
			r.logHookError("OnStaleEventSkipped", e.name, err)
		}
	}
}

// EmitInstanceDeactivated notifies all extensions that implement InstanceDeactivated.
func (r *Registry) EmitInstanceDeactivated(ctx context.Context, si *instance.ScheduleInstance) {
	for _, e := range r.instanceDeactivated {
		if err := e.hook.OnInstanceDeactivated(ctx, si); err != nil {
			r.logHookError("OnInstanceDeactivated", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
