// Package instance implements the per-recipient runtime state machine
// that tracks progress through a schedule: the ScheduleInstance entity,
// its event-advancement and catch-up transitions, the refresh operation
// that synchronizes instances to a desired recipient set, and the sharded
// persistence contract.
package instance

import (
	"fmt"
	"time"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/recipient"
	"github.com/dimagi/cadence/schedule"
)

// ScheduleInstance tracks one recipient's progress through a schedule.
//
// Invariants: 0 <= CurrentEvent < len(events); Iteration >= 1;
// NextEventDue always reflects the next unfired event in the recipient's
// timezone converted to UTC; once Active is false the instance is
// terminal except for an explicit re-sync through refresh.
type ScheduleInstance struct {
	cadence.Entity

	ID           id.InstanceID `json:"id"`
	Domain       string        `json:"domain"`
	ScheduleID   id.ScheduleID `json:"schedule_id"`
	Recipient    recipient.Ref `json:"recipient"`
	StartDate    schedule.Date `json:"start_date"`
	CurrentEvent int           `json:"current_event"`
	Iteration    int           `json:"iteration"`
	NextEventDue time.Time     `json:"next_event_due"`
	Active       bool          `json:"active"`

	// Derived values computed once per load, attached explicitly so
	// cache invalidation stays visible: the schedule definition and the
	// recipient's resolved timezone.
	sched *schedule.Schedule
	loc   *time.Location
}

// Attach sets the per-load derived values. Every state transition
// requires an attached schedule; callers load the schedule and resolve
// the timezone once, right after loading the instance.
func (si *ScheduleInstance) Attach(s *schedule.Schedule, loc *time.Location) {
	si.sched = s
	si.loc = loc
}

// Schedule returns the attached schedule definition, or nil.
func (si *ScheduleInstance) Schedule() *schedule.Schedule { return si.sched }

// Location returns the attached timezone, defaulting to UTC.
func (si *ScheduleInstance) Location() *time.Location {
	if si.loc == nil {
		return time.UTC
	}
	return si.loc
}

func (si *ScheduleInstance) requireSchedule() (*schedule.Schedule, error) {
	if si.sched == nil {
		return nil, fmt.Errorf("instance %s: no schedule attached", si.ID)
	}
	return si.sched, nil
}

// NewTimed creates an instance of a timed schedule for a recipient. With
// a zero explicitStart the start date is "today" in the recipient's
// timezone, rolled forward a day if the first occurrence would already be
// in the past. The returned instance has the schedule attached.
func NewTimed(s *schedule.Schedule, ref recipient.Ref, explicitStart schedule.Date, loc *time.Location, now time.Time, props schedule.PropertySource) (*ScheduleInstance, error) {
	start, due, err := s.FirstDueAt(explicitStart, loc, now, props)
	if err != nil {
		return nil, err
	}

	si := &ScheduleInstance{
		Entity:       cadence.NewEntity(),
		ID:           id.NewInstanceID(),
		Domain:       s.Domain,
		ScheduleID:   s.ID,
		Recipient:    ref,
		StartDate:    start,
		CurrentEvent: 0,
		Iteration:    1,
		NextEventDue: due,
		Active:       s.Active,
	}
	si.Attach(s, loc)
	return si, nil
}

// NewAlert creates an instance of a one-shot (alert) schedule. The first
// event is due its minute offset after the triggering moment.
func NewAlert(s *schedule.Schedule, ref recipient.Ref, now time.Time) (*ScheduleInstance, error) {
	if s.Kind != schedule.KindAlert {
		return nil, fmt.Errorf("instance: schedule %s is not an alert schedule", s.ID)
	}

	offset := time.Duration(s.Events[0].Time.MinuteOffset) * time.Minute
	si := &ScheduleInstance{
		Entity:       cadence.NewEntity(),
		ID:           id.NewInstanceID(),
		Domain:       s.Domain,
		ScheduleID:   s.ID,
		Recipient:    ref,
		StartDate:    schedule.DateOf(now.UTC()),
		CurrentEvent: 0,
		Iteration:    1,
		NextEventDue: now.UTC().Add(offset),
		Active:       s.Active,
	}
	si.Attach(s, time.UTC)
	return si, nil
}

// MoveToNextEvent advances to the next event, wrapping to the next
// iteration past the last event. When a finite iteration cap is
// exceeded the instance deactivates instead of computing a new due
// timestamp.
func (si *ScheduleInstance) MoveToNextEvent(props schedule.PropertySource) error {
	s, err := si.requireSchedule()
	if err != nil {
		return err
	}

	si.CurrentEvent++
	if si.CurrentEvent >= len(s.Events) {
		si.CurrentEvent = 0
		si.Iteration++
	}

	if s.IterationsComplete(si.Iteration) {
		si.Active = false
		return nil
	}

	return si.recomputeNextEventDue(props)
}

// MoveToNextEventNotInThePast advances past all events already behind
// now. This is the catch-up mechanism after downtime or reactivation: an
// active instance is never left with a stale due timestamp.
func (si *ScheduleInstance) MoveToNextEventNotInThePast(now time.Time, props schedule.PropertySource) error {
	for si.Active && si.NextEventDue.Before(now) {
		if err := si.MoveToNextEvent(props); err != nil {
			return err
		}
	}
	return nil
}

// recomputeNextEventDue recalculates NextEventDue for the current
// (event, iteration) position.
func (si *ScheduleInstance) recomputeNextEventDue(props schedule.PropertySource) error {
	s, err := si.requireSchedule()
	if err != nil {
		return err
	}

	switch s.Kind {
	case schedule.KindAlert:
		offset := time.Duration(s.Events[si.CurrentEvent].Time.MinuteOffset) * time.Minute
		si.NextEventDue = si.NextEventDue.Add(offset)
	default:
		due, dueErr := s.DueAt(si.CurrentEvent, si.Iteration, si.StartDate, si.Location(), props)
		if dueErr != nil {
			return dueErr
		}
		si.NextEventDue = due
	}
	return nil
}

// SyncActiveFlag reconciles the instance's active flag with its
// schedule's during refresh. Deactivating a schedule deactivates the
// instance; reactivating recomputes the due timestamp and catches up —
// which may immediately drive a stale instance back to inactive when its
// iterations are already exhausted. Returns true if the instance changed.
func (si *ScheduleInstance) SyncActiveFlag(now time.Time, props schedule.PropertySource) (bool, error) {
	s, err := si.requireSchedule()
	if err != nil {
		return false, err
	}

	if !s.Active && si.Active {
		si.Active = false
		return true, nil
	}

	if s.Active && !si.Active {
		if s.IterationsComplete(si.Iteration) {
			return false, nil
		}
		si.Active = true
		if err := si.recomputeNextEventDue(props); err != nil {
			return false, err
		}
		if err := si.MoveToNextEventNotInThePast(now, props); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}
