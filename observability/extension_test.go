package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/instance"
	"github.com/dimagi/cadence/job"
	"github.com/dimagi/cadence/observability"
	"github.com/dimagi/cadence/recipient"
)

func newTestJob() *job.Job {
	return &job.Job{
		ID:    id.NewJobID(),
		Name:  "cadence.process_instance",
		Queue: "default",
	}
}

func newTestInstance() *instance.ScheduleInstance {
	return &instance.ScheduleInstance{
		ID:     id.NewInstanceID(),
		Domain: "clinic-a",
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e := observability.NewMetricsExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

// With no global MeterProvider configured the instruments are noop, so
// every hook must be a safe pass-through returning nil.
func TestMetricsExtension_HooksAreNoopSafe(t *testing.T) {
	e := observability.NewMetricsExtension()
	ctx := context.Background()
	si := newTestInstance()
	contact := recipient.Contact{ID: "user-1"}

	if err := e.OnJobEnqueued(ctx, newTestJob()); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if err := e.OnJobCompleted(ctx, newTestJob(), 100*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := e.OnJobFailed(ctx, newTestJob(), errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if err := e.OnInstanceEnqueued(ctx, instance.DueOccurrence{Domain: "clinic-a"}, id.NewJobID()); err != nil {
		t.Fatalf("OnInstanceEnqueued: %v", err)
	}
	if err := e.OnMessageSent(ctx, si, contact); err != nil {
		t.Fatalf("OnMessageSent: %v", err)
	}
	if err := e.OnMessageFailed(ctx, si, contact, errors.New("send fail")); err != nil {
		t.Fatalf("OnMessageFailed: %v", err)
	}
	if err := e.OnStaleEventSkipped(ctx, si); err != nil {
		t.Fatalf("OnStaleEventSkipped: %v", err)
	}
	if err := e.OnInstanceDeactivated(ctx, si); err != nil {
		t.Fatalf("OnInstanceDeactivated: %v", err)
	}
}
