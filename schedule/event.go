package schedule

import (
	"fmt"
	"time"

	"github.com/dimagi/cadence/content"
)

// TimeOfDay is a civil wall-clock time.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseTimeOfDay parses "15:04" form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("schedule: parse time %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// AddMinutes returns the time-of-day n minutes later, wrapping within the
// day is intentionally NOT performed: minutes past midnight roll the date
// forward when combined with Date.At via time.Date normalization.
func (t TimeOfDay) AddMinutes(n int) TimeOfDay {
	return TimeOfDay{Hour: t.Hour, Minute: t.Minute + n}
}

// Valid reports whether the time is a real wall-clock time.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// String returns the "15:04" form.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// TimeType discriminates event time specifications.
type TimeType string

const (
	// TimeFixed fires at a fixed wall-clock time.
	TimeFixed TimeType = "fixed"
	// TimeRandom fires at a uniformly random time inside the window
	// [At, At+WindowLength minutes). The realized time is drawn each
	// time the due timestamp is computed, not fixed at creation.
	TimeRandom TimeType = "random"
	// TimeCaseProperty fires at a wall-clock time read from a case
	// property of the recipient, falling back to At when the property
	// is missing or unparsable.
	TimeCaseProperty TimeType = "case_property"
	// TimeMinuteOffset is the one-shot (alert) variant: the event fires
	// a number of minutes after the previous event (or, for the first
	// event, after the triggering moment).
	TimeMinuteOffset TimeType = "minute_offset"
)

// TimeSpec is an event's tagged time specification.
type TimeSpec struct {
	Type TimeType `json:"type"`

	// At is the wall-clock time for fixed events, the window start for
	// random events, and the fallback for case-property events.
	At TimeOfDay `json:"at"`

	// WindowLength is the random window length in minutes.
	WindowLength int `json:"window_length,omitempty"`

	// CaseProperty names the case property holding the fire time.
	CaseProperty string `json:"case_property,omitempty"`

	// MinuteOffset is the minutes-to-wait for alert events.
	MinuteOffset int `json:"minute_offset,omitempty"`
}

// Event is one scheduled occurrence within a Schedule: a day offset
// within the iteration, a time specification, and the Content delivered
// when it fires. For monthly schedules Day is a day of the month, where
// negative values count back from the month end (-1 is the last day).
type Event struct {
	Order   int             `json:"order"`
	Day     int             `json:"day"`
	Time    TimeSpec        `json:"time"`
	Content content.Content `json:"content"`
}
