package schedule_test

import (
	"testing"
	"time"

	"github.com/dimagi/cadence/schedule"
)

func TestMonthStart_AnchorsOnDayOne(t *testing.T) {
	// The source day never leaks into the target month: striding from
	// Jan 31 lands on Feb 1, not a normalized Mar 2.
	d := schedule.NewDate(2024, time.January, 31)
	if got := d.MonthStart(1); got != schedule.NewDate(2024, time.February, 1) {
		t.Errorf("MonthStart(1) = %v", got)
	}
	if got := d.MonthStart(0); got != schedule.NewDate(2024, time.January, 1) {
		t.Errorf("MonthStart(0) = %v", got)
	}
	// Year rollover.
	if got := d.MonthStart(12); got != schedule.NewDate(2025, time.January, 1) {
		t.Errorf("MonthStart(12) = %v", got)
	}
}

func TestDaysInMonth(t *testing.T) {
	cases := []struct {
		d    schedule.Date
		want int
	}{
		{schedule.NewDate(2024, time.February, 1), 29},
		{schedule.NewDate(2023, time.February, 1), 28},
		{schedule.NewDate(2024, time.April, 10), 30},
		{schedule.NewDate(2024, time.December, 25), 31},
	}
	for _, tc := range cases {
		if got := tc.d.DaysInMonth(); got != tc.want {
			t.Errorf("%v DaysInMonth = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := schedule.ParseDate("2024-06-10")
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	if d != schedule.NewDate(2024, time.June, 10) {
		t.Errorf("got %v", d)
	}
	if _, err := schedule.ParseDate("June 10"); err == nil {
		t.Error("non-ISO input should fail")
	}
}
