package instance_test

import (
	"context"
	"testing"
	"time"

	"github.com/dimagi/cadence/instance"
	"github.com/dimagi/cadence/recipient"
	"github.com/dimagi/cadence/schedule"
	"github.com/dimagi/cadence/store/memory"
)

func newTestRefresher(t *testing.T, now time.Time) (*instance.Refresher, *memory.Store) {
	t.Helper()
	dir := &stubDirectory{contacts: map[string]recipient.Contact{
		"case-1": {ID: "case-1", Name: "Ada", Active: true},
		"case-2": {ID: "case-2", Name: "Grace", Active: true},
		"case-3": {ID: "case-3", Name: "Edith", Active: true},
	}}
	st := memory.New()
	resolver := recipient.NewResolver(dir, nil)
	r := instance.NewRefresher(st, resolver, nil).WithClock(func() time.Time { return now })
	return r, st
}

func TestRefresh_CreatesInstancesForNewRecipients(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC)
	r, st := newTestRefresher(t, now)

	s := mustDaily(t, schedule.TimeOfDay{Hour: 9})
	desired := []recipient.Ref{caseRef("case-1"), caseRef("case-2")}
	if err := r.Refresh(ctx, s, desired, schedule.NewDate(2024, time.June, 1)); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	all, err := st.InstancesForSchedule(ctx, s.ID)
	if err != nil {
		t.Fatalf("InstancesForSchedule: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d instances, want 2", len(all))
	}
	for _, si := range all {
		if si.StartDate != schedule.NewDate(2024, time.June, 1) {
			t.Errorf("instance %s start date = %v", si.ID, si.StartDate)
		}
		if !si.Active {
			t.Errorf("instance %s should be active", si.ID)
		}
	}
}

func TestRefresh_RemovesUnwantedInstances(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC)
	r, st := newTestRefresher(t, now)

	s := mustDaily(t, schedule.TimeOfDay{Hour: 9})
	start := schedule.NewDate(2024, time.June, 1)
	if err := r.Refresh(ctx, s, []recipient.Ref{caseRef("case-1"), caseRef("case-2")}, start); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// case-1 leaves the recipient set.
	if err := r.Refresh(ctx, s, []recipient.Ref{caseRef("case-2")}, start); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	all, err := st.InstancesForSchedule(ctx, s.ID)
	if err != nil {
		t.Fatalf("InstancesForSchedule: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d instances, want 1", len(all))
	}
	if all[0].Recipient != caseRef("case-2") {
		t.Errorf("surviving instance belongs to %v", all[0].Recipient)
	}
}

func TestRefresh_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC)
	r, st := newTestRefresher(t, now)

	s := mustDaily(t, schedule.TimeOfDay{Hour: 9})
	start := schedule.NewDate(2024, time.June, 1)
	desired := []recipient.Ref{caseRef("case-1")}

	if err := r.Refresh(ctx, s, desired, start); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	first, err := st.InstancesForSchedule(ctx, s.ID)
	if err != nil {
		t.Fatalf("InstancesForSchedule: %v", err)
	}

	if err := r.Refresh(ctx, s, desired, start); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	second, err := st.InstancesForSchedule(ctx, s.ID)
	if err != nil {
		t.Fatalf("InstancesForSchedule: %v", err)
	}

	if len(second) != 1 || second[0].ID != first[0].ID {
		t.Error("refresh with an unchanged recipient set must not recreate instances")
	}
	if !second[0].UpdatedAt.Equal(first[0].UpdatedAt) {
		t.Error("untouched instance should not be rewritten")
	}
}

func TestRefresh_NewRecipientJoinsAtModelPosition(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC)
	r, st := newTestRefresher(t, now)

	s := mustDaily(t, schedule.TimeOfDay{Hour: 9})
	start := schedule.NewDate(2024, time.June, 1)
	if err := r.Refresh(ctx, s, []recipient.Ref{caseRef("case-1")}, start); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// case-1 advances mid-campaign.
	existing, err := st.InstancesForSchedule(ctx, s.ID)
	if err != nil {
		t.Fatalf("InstancesForSchedule: %v", err)
	}
	model := existing[0]
	model.Attach(s, time.UTC)
	for range 3 {
		if err := model.MoveToNextEvent(nil); err != nil {
			t.Fatalf("MoveToNextEvent: %v", err)
		}
	}
	if err := st.SaveInstance(ctx, model); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	// case-2 joins and picks up the model's position instead of
	// restarting from the first event.
	later := time.Date(2024, time.June, 2, 0, 0, 0, 0, time.UTC)
	r2 := instance.NewRefresher(st, recipient.NewResolver(&stubDirectory{contacts: map[string]recipient.Contact{
		"case-1": {ID: "case-1", Active: true},
		"case-2": {ID: "case-2", Active: true},
	}}, nil), nil).WithClock(func() time.Time { return later })

	if err := r2.Refresh(ctx, s, []recipient.Ref{caseRef("case-1"), caseRef("case-2")}, schedule.Date{}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	all, err := st.InstancesForSchedule(ctx, s.ID)
	if err != nil {
		t.Fatalf("InstancesForSchedule: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d instances, want 2", len(all))
	}
	joined := all[1]
	if joined.Recipient != caseRef("case-2") {
		t.Fatalf("second instance belongs to %v", joined.Recipient)
	}
	if joined.StartDate != model.StartDate {
		t.Errorf("joined start date = %v, want the model's %v", joined.StartDate, model.StartDate)
	}
	if joined.Iteration < model.Iteration {
		t.Errorf("joined iteration = %d, model is at %d", joined.Iteration, model.Iteration)
	}
	if joined.NextEventDue.Before(later) {
		t.Errorf("joined instance due %v is already in the past", joined.NextEventDue)
	}
}

func TestRefresh_ScheduleChangeRecomputesDue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC)
	r, st := newTestRefresher(t, now)

	s := mustDaily(t, schedule.TimeOfDay{Hour: 9})
	start := schedule.NewDate(2024, time.June, 1)
	if err := r.Refresh(ctx, s, []recipient.Ref{caseRef("case-1")}, start); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// The fire time moves to 11:00.
	time.Sleep(time.Millisecond)
	s.Events[0].Time.At = schedule.TimeOfDay{Hour: 11}
	s.Touch()

	if err := r.Refresh(ctx, s, []recipient.Ref{caseRef("case-1")}, schedule.Date{}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	all, err := st.InstancesForSchedule(ctx, s.ID)
	if err != nil {
		t.Fatalf("InstancesForSchedule: %v", err)
	}
	if want := time.Date(2024, time.June, 1, 11, 0, 0, 0, time.UTC); !all[0].NextEventDue.Equal(want) {
		t.Errorf("due = %v, want %v", all[0].NextEventDue, want)
	}
}

func TestRefresh_FollowsScheduleActiveFlag(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, time.May, 31, 0, 0, 0, 0, time.UTC)
	r, st := newTestRefresher(t, now)

	s := mustDaily(t, schedule.TimeOfDay{Hour: 9})
	start := schedule.NewDate(2024, time.June, 1)
	desired := []recipient.Ref{caseRef("case-1")}
	if err := r.Refresh(ctx, s, desired, start); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	s.Active = false
	s.Touch()
	if err := r.Refresh(ctx, s, desired, schedule.Date{}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	all, err := st.InstancesForSchedule(ctx, s.ID)
	if err != nil {
		t.Fatalf("InstancesForSchedule: %v", err)
	}
	if all[0].Active {
		t.Fatal("instance should follow schedule deactivation")
	}

	s.Active = true
	s.Touch()
	if err := r.Refresh(ctx, s, desired, schedule.Date{}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	all, err = st.InstancesForSchedule(ctx, s.ID)
	if err != nil {
		t.Fatalf("InstancesForSchedule: %v", err)
	}
	if !all[0].Active {
		t.Fatal("instance should follow schedule reactivation")
	}
	if all[0].NextEventDue.Before(now) {
		t.Errorf("reactivated instance due %v is already in the past", all[0].NextEventDue)
	}
	if all[0].StartDate != start {
		t.Errorf("reactivation changed start date to %v", all[0].StartDate)
	}
}
