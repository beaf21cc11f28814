package schedule_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/dimagi/cadence/content"
	"github.com/dimagi/cadence/schedule"
)

func sms() content.Content {
	return content.SMS(map[string]string{"*": "hello"})
}

func mustDaily(t *testing.T, at schedule.TimeOfDay, opts ...schedule.Option) *schedule.Schedule {
	t.Helper()
	s, err := schedule.Daily("clinic-a", at, sms(), opts...)
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	return s
}

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%s): %v", name, err)
	}
	return loc
}

// ──────────────────────────────────────────────────
// Timezone conversion
// ──────────────────────────────────────────────────

func TestDueAt_ConvertsRecipientLocalToUTC(t *testing.T) {
	s := mustDaily(t, schedule.TimeOfDay{Hour: 12})
	ny := mustLocation(t, "America/New_York")

	// New York is UTC-4 in mid-March 2017 (DST).
	start := schedule.NewDate(2017, time.March, 16)
	due, err := s.DueAt(0, 1, start, ny, nil)
	if err != nil {
		t.Fatalf("DueAt: %v", err)
	}

	want := time.Date(2017, time.March, 16, 16, 0, 0, 0, time.UTC)
	if !due.Equal(want) {
		t.Errorf("due = %v, want %v", due, want)
	}
	if due.Location() != time.UTC {
		t.Errorf("due should be expressed in UTC, got %v", due.Location())
	}
}

func TestResolveTimezone_FallbackChain(t *testing.T) {
	ny := mustLocation(t, "America/New_York")

	if got := schedule.ResolveTimezone("America/New_York", "Asia/Kolkata", false); got.String() != ny.String() {
		t.Errorf("recipient timezone should win, got %v", got)
	}
	if got := schedule.ResolveTimezone("", "Asia/Kolkata", false); got.String() != "Asia/Kolkata" {
		t.Errorf("domain default should apply, got %v", got)
	}
	if got := schedule.ResolveTimezone("", "Asia/Kolkata", true); got != time.UTC {
		t.Errorf("useUTC should bypass the domain default, got %v", got)
	}
	if got := schedule.ResolveTimezone("Not/AZone", "", false); got != time.UTC {
		t.Errorf("unknown names fall through to UTC, got %v", got)
	}
}

// ──────────────────────────────────────────────────
// Iteration arithmetic
// ──────────────────────────────────────────────────

func TestDueAt_RepeatEveryStridesIterations(t *testing.T) {
	s := mustDaily(t, schedule.TimeOfDay{Hour: 9},
		schedule.WithRepeatEvery(2),
		schedule.WithTotalIterations(3),
	)
	start := schedule.NewDate(2018, time.March, 1)

	wantDays := []int{1, 3, 5}
	for i, day := range wantDays {
		due, err := s.DueAt(0, i+1, start, time.UTC, nil)
		if err != nil {
			t.Fatalf("DueAt iteration %d: %v", i+1, err)
		}
		want := time.Date(2018, time.March, day, 9, 0, 0, 0, time.UTC)
		if !due.Equal(want) {
			t.Errorf("iteration %d due = %v, want %v", i+1, due, want)
		}
	}

	if !s.IterationsComplete(4) {
		t.Error("iteration 4 should be past the cap of 3")
	}
	if s.IterationsComplete(3) {
		t.Error("iteration 3 is within the cap")
	}
}

func TestDueAt_MultiEventIteration(t *testing.T) {
	// A 7-day iteration with events on day 0 and day 3.
	s, err := schedule.Weekly("clinic-a", schedule.TimeOfDay{Hour: 8}, sms(),
		[]time.Weekday{time.Monday, time.Thursday}, time.Monday)
	if err != nil {
		t.Fatalf("Weekly: %v", err)
	}

	// 2024-01-01 is a Monday.
	start := schedule.NewDate(2024, time.January, 1)

	cases := []struct {
		event, iteration int
		wantDay          int
	}{
		{0, 1, 1},  // Monday week 1
		{1, 1, 4},  // Thursday week 1
		{0, 2, 8},  // Monday week 2
		{1, 2, 11}, // Thursday week 2
	}
	for _, tc := range cases {
		due, err := s.DueAt(tc.event, tc.iteration, start, time.UTC, nil)
		if err != nil {
			t.Fatalf("DueAt(%d,%d): %v", tc.event, tc.iteration, err)
		}
		want := time.Date(2024, time.January, tc.wantDay, 8, 0, 0, 0, time.UTC)
		if !due.Equal(want) {
			t.Errorf("event %d iteration %d due = %v, want %v", tc.event, tc.iteration, due, want)
		}
	}
}

// ──────────────────────────────────────────────────
// Monthly arithmetic
// ──────────────────────────────────────────────────

func TestDueAt_MonthlyNegativeDayCountsFromMonthEnd(t *testing.T) {
	s, err := schedule.Monthly("clinic-a", schedule.TimeOfDay{Hour: 10}, sms(), []int{-1})
	if err != nil {
		t.Fatalf("Monthly: %v", err)
	}

	// February 2020 is a leap month.
	start := schedule.NewDate(2020, time.February, 1)
	due, err := s.DueAt(0, 1, start, time.UTC, nil)
	if err != nil {
		t.Fatalf("DueAt: %v", err)
	}
	want := time.Date(2020, time.February, 29, 10, 0, 0, 0, time.UTC)
	if !due.Equal(want) {
		t.Errorf("due = %v, want %v", due, want)
	}

	// Iteration 2 is March: last day is the 31st.
	due, err = s.DueAt(0, 2, start, time.UTC, nil)
	if err != nil {
		t.Fatalf("DueAt iteration 2: %v", err)
	}
	want = time.Date(2020, time.March, 31, 10, 0, 0, 0, time.UTC)
	if !due.Equal(want) {
		t.Errorf("iteration 2 due = %v, want %v", due, want)
	}
}

func TestDueAt_MonthlyDayPastMonthEndClamps(t *testing.T) {
	s, err := schedule.Monthly("clinic-a", schedule.TimeOfDay{Hour: 10}, sms(), []int{31})
	if err != nil {
		t.Fatalf("Monthly: %v", err)
	}

	start := schedule.NewDate(2023, time.April, 1)
	due, err := s.DueAt(0, 1, start, time.UTC, nil)
	if err != nil {
		t.Fatalf("DueAt: %v", err)
	}
	want := time.Date(2023, time.April, 30, 10, 0, 0, 0, time.UTC)
	if !due.Equal(want) {
		t.Errorf("due = %v, want %v", due, want)
	}
}

// ──────────────────────────────────────────────────
// Start anchoring
// ──────────────────────────────────────────────────

func TestRollForwardStartDate(t *testing.T) {
	s := mustDaily(t, schedule.TimeOfDay{Hour: 9}, schedule.WithStartOffset(2))

	// 2024-01-03 + 2 = 2024-01-05, no weekday anchor.
	got := s.RollForwardStartDate(schedule.NewDate(2024, time.January, 3))
	if got != schedule.NewDate(2024, time.January, 5) {
		t.Errorf("got %v", got)
	}

	// With a Monday anchor, 2024-01-05 (Friday) rolls to 2024-01-08.
	s.StartDayOfWeek = int(time.Monday)
	got = s.RollForwardStartDate(schedule.NewDate(2024, time.January, 3))
	if got != schedule.NewDate(2024, time.January, 8) {
		t.Errorf("with weekday anchor got %v", got)
	}

	// A date already on the anchor weekday stays put.
	s.StartOffset = 0
	got = s.RollForwardStartDate(schedule.NewDate(2024, time.January, 8))
	if got != schedule.NewDate(2024, time.January, 8) {
		t.Errorf("anchor-day start moved to %v", got)
	}
}

func TestFirstDueAt_AutoStartNeverFiresInThePast(t *testing.T) {
	s := mustDaily(t, schedule.TimeOfDay{Hour: 9})

	// Now is 10:00 UTC: today's 09:00 is already gone, so the start
	// date rolls to tomorrow.
	now := time.Date(2024, time.June, 10, 10, 0, 0, 0, time.UTC)
	start, due, err := s.FirstDueAt(schedule.Date{}, time.UTC, now, nil)
	if err != nil {
		t.Fatalf("FirstDueAt: %v", err)
	}
	if start != schedule.NewDate(2024, time.June, 11) {
		t.Errorf("start = %v, want 2024-06-11", start)
	}
	if want := time.Date(2024, time.June, 11, 9, 0, 0, 0, time.UTC); !due.Equal(want) {
		t.Errorf("due = %v, want %v", due, want)
	}

	// At 08:00 today's occurrence is still ahead.
	now = time.Date(2024, time.June, 10, 8, 0, 0, 0, time.UTC)
	start, due, err = s.FirstDueAt(schedule.Date{}, time.UTC, now, nil)
	if err != nil {
		t.Fatalf("FirstDueAt: %v", err)
	}
	if start != schedule.NewDate(2024, time.June, 10) {
		t.Errorf("start = %v, want 2024-06-10", start)
	}
	if want := time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC); !due.Equal(want) {
		t.Errorf("due = %v, want %v", due, want)
	}
}

func TestFirstDueAt_ExplicitStartMayBeInThePast(t *testing.T) {
	s := mustDaily(t, schedule.TimeOfDay{Hour: 9})

	now := time.Date(2024, time.June, 10, 10, 0, 0, 0, time.UTC)
	explicit := schedule.NewDate(2024, time.June, 1)
	start, due, err := s.FirstDueAt(explicit, time.UTC, now, nil)
	if err != nil {
		t.Fatalf("FirstDueAt: %v", err)
	}
	if start != explicit {
		t.Errorf("explicit start must not roll forward, got %v", start)
	}
	if want := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC); !due.Equal(want) {
		t.Errorf("due = %v, want %v", due, want)
	}
}

// ──────────────────────────────────────────────────
// Event time realization
// ──────────────────────────────────────────────────

func TestDueAt_RandomWindowStaysInside(t *testing.T) {
	s := mustDaily(t, schedule.TimeOfDay{Hour: 14}, schedule.WithRandomWindow(30))
	start := schedule.NewDate(2024, time.June, 10)

	lo := time.Date(2024, time.June, 10, 14, 0, 0, 0, time.UTC)
	hi := lo.Add(30 * time.Minute)

	for range 50 {
		due, err := s.DueAt(0, 1, start, time.UTC, nil)
		if err != nil {
			t.Fatalf("DueAt: %v", err)
		}
		if due.Before(lo) || !due.Before(hi) {
			t.Fatalf("due %v outside window [%v, %v)", due, lo, hi)
		}
	}
}

func TestDueAt_CasePropertyTime(t *testing.T) {
	s := mustDaily(t, schedule.TimeOfDay{Hour: 9},
		schedule.WithCasePropertyTime("reminder_time"))
	start := schedule.NewDate(2024, time.June, 10)

	props := func(name string) (string, bool) {
		if name == "reminder_time" {
			return "17:45", true
		}
		return "", false
	}
	due, err := s.DueAt(0, 1, start, time.UTC, props)
	if err != nil {
		t.Fatalf("DueAt: %v", err)
	}
	if want := time.Date(2024, time.June, 10, 17, 45, 0, 0, time.UTC); !due.Equal(want) {
		t.Errorf("due = %v, want %v", due, want)
	}

	// Unparsable value falls back to the configured time.
	bad := func(string) (string, bool) { return "not-a-time", true }
	due, err = s.DueAt(0, 1, start, time.UTC, bad)
	if err != nil {
		t.Fatalf("DueAt fallback: %v", err)
	}
	if want := time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC); !due.Equal(want) {
		t.Errorf("fallback due = %v, want %v", due, want)
	}

	// So does a nil property source.
	due, err = s.DueAt(0, 1, start, time.UTC, nil)
	if err != nil {
		t.Fatalf("DueAt nil props: %v", err)
	}
	if want := time.Date(2024, time.June, 10, 9, 0, 0, 0, time.UTC); !due.Equal(want) {
		t.Errorf("nil-props due = %v, want %v", due, want)
	}
}

// ──────────────────────────────────────────────────
// Stop condition
// ──────────────────────────────────────────────────

func TestStopConditionValue(t *testing.T) {
	if d, ok := schedule.StopConditionValue("2024-06-10"); !ok || d != schedule.NewDate(2024, time.June, 10) {
		t.Errorf("ISO date: got %v, %v", d, ok)
	}
	if d, ok := schedule.StopConditionValue("2024-06-10T12:00:00Z"); !ok || d != schedule.NewDate(2024, time.June, 10) {
		t.Errorf("RFC 3339: got %v, %v", d, ok)
	}
	if _, ok := schedule.StopConditionValue(""); ok {
		t.Error("empty value should be unreachable")
	}
	if _, ok := schedule.StopConditionValue("soon"); ok {
		t.Error("garbage should be unreachable, not an error")
	}
}

func TestStopConditionReached(t *testing.T) {
	s := mustDaily(t, schedule.TimeOfDay{Hour: 9},
		schedule.WithStopDateProperty("stop_date"))

	props := func(name string) (string, bool) {
		if name == "stop_date" {
			return "2024-06-10", true
		}
		return "", false
	}

	before := time.Date(2024, time.June, 9, 23, 0, 0, 0, time.UTC)
	if s.StopConditionReached(props, "", before) {
		t.Error("stop date not yet reached")
	}

	onDay := time.Date(2024, time.June, 10, 0, 30, 0, 0, time.UTC)
	if !s.StopConditionReached(props, "", onDay) {
		t.Error("stop date reached on the day itself")
	}

	// The comparison happens in the recipient's timezone: 2024-06-10
	// 02:00 UTC is still 2024-06-09 in New York.
	if s.StopConditionReached(props, "America/New_York", time.Date(2024, time.June, 10, 2, 0, 0, 0, time.UTC)) {
		t.Error("stop date not reached in recipient-local time")
	}

	if s.StopConditionReached(nil, "", onDay) {
		t.Error("nil props means no stop condition")
	}
}
