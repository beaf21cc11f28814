package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/content"
	"github.com/dimagi/cadence/id"
)

// Option configures a schedule built by one of the factories.
type Option func(*Schedule)

// WithTotalIterations caps the schedule at n iterations.
func WithTotalIterations(n int) Option {
	return func(s *Schedule) { s.TotalIterations = n }
}

// WithRepeatEvery sends every nth cycle instead of every cycle.
func WithRepeatEvery(n int) Option {
	return func(s *Schedule) { s.RepeatEvery = n }
}

// WithStartOffset shifts the start date n days past the anchor.
func WithStartOffset(n int) Option {
	return func(s *Schedule) { s.StartOffset = n }
}

// WithRandomWindow turns each fixed event time into a random window of
// the given length in minutes.
func WithRandomWindow(minutes int) Option {
	return func(s *Schedule) {
		for i := range s.Events {
			s.Events[i].Time.Type = TimeRandom
			s.Events[i].Time.WindowLength = minutes
		}
	}
}

// WithCasePropertyTime reads each event's fire time from the named case
// property, keeping the configured time as fallback.
func WithCasePropertyTime(property string) Option {
	return func(s *Schedule) {
		for i := range s.Events {
			s.Events[i].Time.Type = TimeCaseProperty
			s.Events[i].Time.CaseProperty = property
		}
	}
}

// WithStopDateProperty deactivates instances once the date held in the
// named case property is reached.
func WithStopDateProperty(property string) Option {
	return func(s *Schedule) { s.StopDateCaseProperty = property }
}

// WithDefaultTimezone sets the domain default timezone for recipients
// without one.
func WithDefaultTimezone(tz string) Option {
	return func(s *Schedule) { s.DefaultTimezone = tz }
}

// WithUTCAsDefault uses UTC instead of the domain default timezone when a
// recipient has none.
func WithUTCAsDefault() Option {
	return func(s *Schedule) { s.UseUTCAsDefault = true }
}

// WithDescendantLocations expands location recipients to descendant
// locations, optionally filtered by location type.
func WithDescendantLocations(typeFilter ...string) Option {
	return func(s *Schedule) {
		s.IncludeDescendantLocations = true
		s.LocationTypeFilter = typeFilter
	}
}

// WithUserDataFilter restricts expanded users by user-data values.
func WithUserDataFilter(filter map[string][]string) Option {
	return func(s *Schedule) { s.UserDataFilter = filter }
}

func newTimed(domain string, period Period, length int, events []Event, opts []Option) (*Schedule, error) {
	s := &Schedule{
		Entity:          cadence.NewEntity(),
		ID:              id.NewScheduleID(),
		Domain:          domain,
		Kind:            KindTimed,
		Events:          events,
		Period:          period,
		ScheduleLength:  length,
		TotalIterations: RepeatIndefinitely,
		RepeatEvery:     1,
		StartDayOfWeek:  AnyDay,
		Active:          true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Daily builds a schedule firing one event per day at the given time.
func Daily(domain string, at TimeOfDay, c content.Content, opts ...Option) (*Schedule, error) {
	events := []Event{{
		Order:   0,
		Day:     0,
		Time:    TimeSpec{Type: TimeFixed, At: at},
		Content: c,
	}}
	return newTimed(domain, PeriodDays, 1, events, opts)
}

// Weekly builds a 7-day schedule firing at the given time on the given
// weekdays, anchored so iterations begin on startDayOfWeek: the start
// date rolls forward to that weekday and event days are offsets from it.
func Weekly(domain string, at TimeOfDay, c content.Content, daysOfWeek []time.Weekday, startDayOfWeek time.Weekday, opts ...Option) (*Schedule, error) {
	if len(daysOfWeek) == 0 {
		return nil, fmt.Errorf("%w: weekly schedule needs at least one weekday", cadence.ErrInvalidSchedule)
	}

	offsets := make([]int, 0, len(daysOfWeek))
	seen := make(map[int]struct{}, len(daysOfWeek))
	for _, day := range daysOfWeek {
		offset := (int(day) - int(startDayOfWeek) + 7) % 7
		if _, dup := seen[offset]; dup {
			return nil, fmt.Errorf("%w: duplicate weekday", cadence.ErrInvalidSchedule)
		}
		seen[offset] = struct{}{}
		offsets = append(offsets, offset)
	}
	sort.Ints(offsets)

	events := make([]Event, len(offsets))
	for i, offset := range offsets {
		events[i] = Event{
			Order:   i,
			Day:     offset,
			Time:    TimeSpec{Type: TimeFixed, At: at},
			Content: c,
		}
	}

	s, err := newTimed(domain, PeriodDays, 7, events, opts)
	if err != nil {
		return nil, err
	}
	s.StartDayOfWeek = int(startDayOfWeek)
	return s, nil
}

// Monthly builds a one-month schedule firing at the given time on the
// given days of the month. Negative days count back from the month end:
// -1 is the last day.
func Monthly(domain string, at TimeOfDay, c content.Content, daysOfMonth []int, opts ...Option) (*Schedule, error) {
	if len(daysOfMonth) == 0 {
		return nil, fmt.Errorf("%w: monthly schedule needs at least one day", cadence.ErrInvalidSchedule)
	}

	days := append([]int(nil), daysOfMonth...)
	// Negative days resolve to the month end, so they order after the
	// positive days they follow chronologically.
	sort.Slice(days, func(i, j int) bool {
		return monthDayRank(days[i]) < monthDayRank(days[j])
	})

	events := make([]Event, len(days))
	for i, day := range days {
		events[i] = Event{
			Order:   i,
			Day:     day,
			Time:    TimeSpec{Type: TimeFixed, At: at},
			Content: c,
		}
	}
	return newTimed(domain, PeriodMonths, 1, events, opts)
}

// monthDayRank maps a day-of-month index to its position in a nominal
// 31-day month so negative (from-the-end) days sort chronologically.
func monthDayRank(day int) int {
	if day < 0 {
		return 32 + day
	}
	return day
}

// Alert builds a one-shot schedule delivering content the given number of
// minutes after the triggering moment.
func Alert(domain string, minutesToWait int, c content.Content, opts ...Option) (*Schedule, error) {
	s := &Schedule{
		Entity: cadence.NewEntity(),
		ID:     id.NewScheduleID(),
		Domain: domain,
		Kind:   KindAlert,
		Events: []Event{{
			Order:   0,
			Time:    TimeSpec{Type: TimeMinuteOffset, MinuteOffset: minutesToWait},
			Content: c,
		}},
		TotalIterations: 1,
		RepeatEvery:     1,
		StartDayOfWeek:  AnyDay,
		Active:          true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
