package schedule

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// ResolveTimezone resolves a recipient timezone name with an explicit
// fallback chain: the recipient's own timezone, then the domain default
// (unless useUTC), then UTC. Unknown names fall through to the next step
// rather than erroring; schedules must keep firing even when a contact
// carries a bad timezone string.
func ResolveTimezone(name, domainDefault string, useUTC bool) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if !useUTC && domainDefault != "" {
		if loc, err := time.LoadLocation(domainDefault); err == nil {
			return loc
		}
	}
	return time.UTC
}

// Location resolves the timezone the schedule should fire in for a
// recipient with the given timezone name.
func (s *Schedule) Location(recipientTZ string) *time.Location {
	return ResolveTimezone(recipientTZ, s.DefaultTimezone, s.UseUTCAsDefault)
}

// PropertySource supplies dynamic case-property values for the recipient
// an instance is scheduled against. A nil PropertySource means no
// properties are available.
type PropertySource func(name string) (string, bool)

// RollForwardStartDate applies the schedule's anchoring to an arbitrary
// start date: StartOffset days forward, then forward to the next
// StartDayOfWeek (which may be the date itself).
func (s *Schedule) RollForwardStartDate(d Date) Date {
	d = d.AddDays(s.StartOffset)
	if s.StartDayOfWeek == AnyDay {
		return d
	}
	for d.Weekday() != time.Weekday(s.StartDayOfWeek) {
		d = d.AddDays(1)
	}
	return d
}

// DueAt computes the due timestamp of the given event in the given
// iteration, in the recipient's local calendar, converted to UTC.
//
//	days since start = (iteration-1) * schedule_length * repeat_every + event day
//
// For monthly schedules the iteration stride is in months and the event
// day addresses a day of the month (negative counts from the month end;
// a positive day past the month end clamps to the last day).
func (s *Schedule) DueAt(eventNum, iteration int, startDate Date, loc *time.Location, props PropertySource) (time.Time, error) {
	if eventNum < 0 || eventNum >= len(s.Events) {
		return time.Time{}, fmt.Errorf("schedule: event %d out of range", eventNum)
	}
	if s.Kind != KindTimed {
		return time.Time{}, fmt.Errorf("schedule: due computation requires a timed schedule")
	}
	ev := s.Events[eventNum]

	var localDate Date
	switch s.Period {
	case PeriodMonths:
		localDate = monthlyEventDate(startDate, (iteration-1)*s.stride(), ev.Day)
	default:
		localDate = startDate.AddDays((iteration-1)*s.stride() + ev.Day)
	}

	at, err := s.eventTime(ev, props)
	if err != nil {
		return time.Time{}, err
	}

	return localDate.At(at, loc).UTC(), nil
}

// monthlyEventDate resolves a day-of-month event, supporting negative
// indices counted from the month end.
func monthlyEventDate(start Date, monthsAhead, day int) Date {
	anchor := start.MonthStart(monthsAhead)
	days := anchor.DaysInMonth()

	resolved := day
	if day < 0 {
		resolved = days + 1 + day
	} else if day > days {
		resolved = days
	}
	return Date{Year: anchor.Year, Month: anchor.Month, Day: resolved}
}

// eventTime realizes the wall-clock time of an event. Random windows are
// drawn fresh on every computation; the realized time always falls in
// [At, At+WindowLength).
func (s *Schedule) eventTime(ev Event, props PropertySource) (TimeOfDay, error) {
	switch ev.Time.Type {
	case TimeFixed:
		return ev.Time.At, nil
	case TimeRandom:
		return ev.Time.At.AddMinutes(rand.IntN(ev.Time.WindowLength)), nil
	case TimeCaseProperty:
		if props != nil {
			if raw, ok := props(ev.Time.CaseProperty); ok {
				if at, err := ParseTimeOfDay(raw); err == nil {
					return at, nil
				}
			}
		}
		// Missing or unparsable property values fall back to the
		// configured time rather than stalling the instance.
		return ev.Time.At, nil
	default:
		return TimeOfDay{}, fmt.Errorf("schedule: cannot realize time type %q", ev.Time.Type)
	}
}

// FirstDueAt computes the start date and first due timestamp for a new
// instance. With no explicit start date, "today" in the recipient's
// timezone is used — and if the computed timestamp is already behind now,
// the start date rolls forward one day and is recomputed, so an
// auto-assigned start never fires a backlog immediately.
func (s *Schedule) FirstDueAt(explicitStart Date, loc *time.Location, now time.Time, props PropertySource) (Date, time.Time, error) {
	start := explicitStart
	auto := start.IsZero()
	if auto {
		start = DateOf(now.In(loc))
	}
	start = s.RollForwardStartDate(start)

	due, err := s.DueAt(0, 1, start, loc, props)
	if err != nil {
		return Date{}, time.Time{}, err
	}

	if auto && due.Before(now) {
		start = start.AddDays(1)
		due, err = s.DueAt(0, 1, start, loc, props)
		if err != nil {
			return Date{}, time.Time{}, err
		}
	}
	return start, due, nil
}

// StopConditionValue parses a per-recipient stop date value. Supported
// forms are an ISO date and RFC 3339. The boolean is false when the value
// is missing or unparsable — an unreachable condition, never an error.
func StopConditionValue(raw string) (Date, bool) {
	if raw == "" {
		return Date{}, false
	}
	if d, err := ParseDate(raw); err == nil {
		return d, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return DateOf(t), true
	}
	return Date{}, false
}

// StopConditionReached evaluates the schedule's deactivation condition
// for a recipient: true once "now" in the resolved timezone reaches the
// stop date read from the recipient's case property.
func (s *Schedule) StopConditionReached(props PropertySource, recipientTZ string, now time.Time) bool {
	if s.StopDateCaseProperty == "" || props == nil {
		return false
	}
	raw, ok := props(s.StopDateCaseProperty)
	if !ok {
		return false
	}
	stop, ok := StopConditionValue(raw)
	if !ok {
		return false
	}

	loc := s.Location(recipientTZ)
	today := DateOf(now.In(loc))
	return !today.Before(stop)
}
