// Package schedule models the configuration side of the dispatch engine:
// a Schedule composed of ordered Events and Content, the factory builders
// for the common daily/weekly/monthly/alert shapes, and the calendar
// arithmetic that turns (start date, iteration, event) into a due
// timestamp in the recipient's timezone.
package schedule

import (
	"fmt"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/id"
)

// Kind discriminates schedule variants.
type Kind string

const (
	// KindTimed is the recurring, calendar-anchored variant.
	KindTimed Kind = "timed"
	// KindAlert is the one-shot, minute-offset variant.
	KindAlert Kind = "alert"
)

// Period is the calendar unit of one schedule iteration.
type Period string

const (
	// PeriodDays measures ScheduleLength in days.
	PeriodDays Period = "days"
	// PeriodMonths measures ScheduleLength in months; event days are
	// days of the month.
	PeriodMonths Period = "months"
)

// RepeatIndefinitely is the TotalIterations sentinel for schedules that
// repeat until deactivated.
const RepeatIndefinitely = -1

// AnyDay is the StartDayOfWeek sentinel meaning no weekday anchoring.
const AnyDay = -1

// Schedule is the immutable-per-version configuration of a messaging
// campaign: ordered events, iteration shape, anchoring, and recipient
// filters. Edits bump UpdatedAt; refresh uses that to recompute due
// timestamps for instances of changed schedules.
type Schedule struct {
	cadence.Entity

	ID     id.ScheduleID `json:"id"`
	Domain string        `json:"domain"`
	Kind   Kind          `json:"kind"`
	Events []Event       `json:"events"`

	// ScheduleLength is the length of one iteration, in Period units.
	Period         Period `json:"period"`
	ScheduleLength int    `json:"schedule_length"`

	// TotalIterations is the number of iterations to run, or
	// RepeatIndefinitely.
	TotalIterations int `json:"total_iterations"`

	// RepeatEvery multiplies ScheduleLength per iteration: a value of N
	// skips N-1 cycles between sends.
	RepeatEvery int `json:"repeat_every"`

	// StartDayOfWeek (time.Weekday value, or AnyDay) and StartOffset
	// roll an arbitrary start date forward to the next matching weekday
	// plus offset days.
	StartDayOfWeek int `json:"start_day_of_week"`
	StartOffset    int `json:"start_offset"`

	// Recipient-expansion switches, applied when instances expand
	// group/location references.
	IncludeDescendantLocations bool                `json:"include_descendant_locations,omitempty"`
	LocationTypeFilter         []string            `json:"location_type_filter,omitempty"`
	UserDataFilter             map[string][]string `json:"user_data_filter,omitempty"`

	// StopDateCaseProperty names an optional case property holding a
	// per-recipient stop date. When the stop date is reached the
	// instance deactivates instead of delivering.
	StopDateCaseProperty string `json:"stop_date_case_property,omitempty"`

	// DefaultTimezone is the domain's timezone, used for recipients
	// without one. UseUTCAsDefault makes UTC the fallback instead.
	DefaultTimezone string `json:"default_timezone,omitempty"`
	UseUTCAsDefault bool   `json:"use_utc_as_default,omitempty"`

	Active bool `json:"active"`
}

// RepeatsIndefinitely reports whether the schedule has no iteration cap.
func (s *Schedule) RepeatsIndefinitely() bool {
	return s.TotalIterations == RepeatIndefinitely
}

// IterationsComplete reports whether the given 1-based iteration number
// is past the schedule's iteration cap.
func (s *Schedule) IterationsComplete(iteration int) bool {
	return !s.RepeatsIndefinitely() && iteration > s.TotalIterations
}

// stride is the number of Period units between iteration starts.
func (s *Schedule) stride() int {
	return s.ScheduleLength * s.RepeatEvery
}

// Validate checks the schedule configuration. A malformed schedule fails
// fast here and never reaches dispatch.
func (s *Schedule) Validate() error {
	if s.Domain == "" {
		return fmt.Errorf("%w: missing domain", cadence.ErrInvalidSchedule)
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("%w: no events", cadence.ErrInvalidSchedule)
	}
	if s.Kind != KindTimed && s.Kind != KindAlert {
		return fmt.Errorf("%w: unknown kind %q", cadence.ErrInvalidSchedule, s.Kind)
	}
	if s.RepeatEvery < 1 {
		return fmt.Errorf("%w: repeat_every must be >= 1", cadence.ErrInvalidSchedule)
	}
	if s.TotalIterations != RepeatIndefinitely && s.TotalIterations < 1 {
		return fmt.Errorf("%w: total_iterations must be >= 1 or repeat indefinitely", cadence.ErrInvalidSchedule)
	}

	if s.Kind == KindAlert {
		return s.validateAlert()
	}
	return s.validateTimed()
}

func (s *Schedule) validateAlert() error {
	if s.TotalIterations != 1 {
		return fmt.Errorf("%w: alert schedules run exactly one iteration", cadence.ErrInvalidSchedule)
	}
	for i, ev := range s.Events {
		if ev.Order != i {
			return fmt.Errorf("%w: event order gap at %d", cadence.ErrInvalidSchedule, i)
		}
		if ev.Time.Type != TimeMinuteOffset {
			return fmt.Errorf("%w: alert events must use minute offsets", cadence.ErrInvalidSchedule)
		}
		if ev.Time.MinuteOffset < 0 {
			return fmt.Errorf("%w: negative minute offset", cadence.ErrInvalidSchedule)
		}
		if err := ev.Content.Validate(); err != nil {
			return fmt.Errorf("%w: event %d: %v", cadence.ErrInvalidSchedule, i, err)
		}
	}
	return nil
}

func (s *Schedule) validateTimed() error {
	if s.Period != PeriodDays && s.Period != PeriodMonths {
		return fmt.Errorf("%w: unknown period %q", cadence.ErrInvalidSchedule, s.Period)
	}
	if s.ScheduleLength < 1 {
		return fmt.Errorf("%w: schedule_length must be >= 1", cadence.ErrInvalidSchedule)
	}
	if s.StartDayOfWeek != AnyDay && (s.StartDayOfWeek < 0 || s.StartDayOfWeek > 6) {
		return fmt.Errorf("%w: start_day_of_week out of range", cadence.ErrInvalidSchedule)
	}

	for i, ev := range s.Events {
		if ev.Order != i {
			return fmt.Errorf("%w: event order gap at %d", cadence.ErrInvalidSchedule, i)
		}
		if err := s.validateEventDay(ev); err != nil {
			return fmt.Errorf("%w: event %d: %v", cadence.ErrInvalidSchedule, i, err)
		}
		if err := validateEventTime(ev.Time); err != nil {
			return fmt.Errorf("%w: event %d: %v", cadence.ErrInvalidSchedule, i, err)
		}
		if err := ev.Content.Validate(); err != nil {
			return fmt.Errorf("%w: event %d: %v", cadence.ErrInvalidSchedule, i, err)
		}
	}
	return nil
}

func (s *Schedule) validateEventDay(ev Event) error {
	switch s.Period {
	case PeriodDays:
		if ev.Day < 0 || ev.Day >= s.ScheduleLength {
			return fmt.Errorf("day %d outside iteration of length %d", ev.Day, s.ScheduleLength)
		}
	case PeriodMonths:
		// Negative days count back from the month end. -28 is the
		// earliest day guaranteed to exist in every month.
		if ev.Day == 0 || ev.Day < -28 || ev.Day > 31 {
			return fmt.Errorf("day of month %d out of range", ev.Day)
		}
	}
	return nil
}

func validateEventTime(ts TimeSpec) error {
	switch ts.Type {
	case TimeFixed:
		if !ts.At.Valid() {
			return fmt.Errorf("invalid time %s", ts.At)
		}
	case TimeRandom:
		if !ts.At.Valid() {
			return fmt.Errorf("invalid window start %s", ts.At)
		}
		if ts.WindowLength < 1 {
			return fmt.Errorf("window length must be >= 1 minute")
		}
	case TimeCaseProperty:
		if ts.CaseProperty == "" {
			return fmt.Errorf("missing case property name")
		}
		if !ts.At.Valid() {
			return fmt.Errorf("invalid fallback time %s", ts.At)
		}
	case TimeMinuteOffset:
		return fmt.Errorf("minute offsets are only valid on alert schedules")
	default:
		return fmt.Errorf("unknown time type %q", ts.Type)
	}
	return nil
}
