package sla

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// mustTime builds a UTC time for calendar tests.
func mustTime(t *testing.T, year int, month time.Month, day, hour, min int) time.Time {
	t.Helper()
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestAddBusinessMinutes_FridayAfternoonRollsToMonday(t *testing.T) {
	cal := DefaultCalendar()

	// Friday 2025-06-06 16:00, one business day (480 min) target:
	// 1 hour remains on Friday, 7 hours consumed on Monday -> Monday 15:00.
	start := mustTime(t, 2025, time.June, 6, 16, 0)
	got := cal.AddBusinessMinutes(start, 480)
	want := mustTime(t, 2025, time.June, 9, 15, 0)

	if !got.Equal(want) {
		t.Errorf("AddBusinessMinutes(Fri 16:00, 480) = %v, want %v", got, want)
	}
}

func TestAddBusinessMinutes_WithinSameDay(t *testing.T) {
	cal := DefaultCalendar()

	start := mustTime(t, 2025, time.June, 3, 9, 0) // Tuesday
	got := cal.AddBusinessMinutes(start, 120)
	want := mustTime(t, 2025, time.June, 3, 11, 0)

	if !got.Equal(want) {
		t.Errorf("AddBusinessMinutes(Tue 09:00, 120) = %v, want %v", got, want)
	}
}

func TestAddBusinessMinutes_StartBeforeWindowOpens(t *testing.T) {
	cal := DefaultCalendar()

	// The clock begins at the next window open, 08:00.
	start := mustTime(t, 2025, time.June, 3, 6, 30)
	got := cal.AddBusinessMinutes(start, 60)
	want := mustTime(t, 2025, time.June, 3, 9, 0)

	if !got.Equal(want) {
		t.Errorf("AddBusinessMinutes(Tue 06:30, 60) = %v, want %v", got, want)
	}
}

func TestAddBusinessMinutes_StartOnWeekend(t *testing.T) {
	cal := DefaultCalendar()

	// Saturday start: counting begins Monday 08:00.
	start := mustTime(t, 2025, time.June, 7, 12, 0)
	got := cal.AddBusinessMinutes(start, 90)
	want := mustTime(t, 2025, time.June, 9, 9, 30)

	if !got.Equal(want) {
		t.Errorf("AddBusinessMinutes(Sat 12:00, 90) = %v, want %v", got, want)
	}
}

func TestAddBusinessMinutes_MultiDayTarget(t *testing.T) {
	cal := DefaultCalendar()

	// 3 business days (3*540=1620 min) from Monday 08:00 ends Wednesday 17:00.
	start := mustTime(t, 2025, time.June, 2, 8, 0)
	got := cal.AddBusinessMinutes(start, 3*540)
	want := mustTime(t, 2025, time.June, 4, 17, 0)

	if !got.Equal(want) {
		t.Errorf("AddBusinessMinutes(Mon 08:00, 1620) = %v, want %v", got, want)
	}
}

func TestBusinessMinutesBetween_SkipsWeekend(t *testing.T) {
	cal := DefaultCalendar()

	// Friday 16:00 -> Monday 09:00: 60 min Friday + 60 min Monday.
	a := mustTime(t, 2025, time.June, 6, 16, 0)
	b := mustTime(t, 2025, time.June, 9, 9, 0)

	if got := cal.BusinessMinutesBetween(a, b); got != 120 {
		t.Errorf("BusinessMinutesBetween = %v, want 120", got)
	}
}

func TestBusinessMinutesBetween_OutsideWindowIsZero(t *testing.T) {
	cal := DefaultCalendar()

	a := mustTime(t, 2025, time.June, 3, 18, 0)
	b := mustTime(t, 2025, time.June, 3, 22, 0)

	if got := cal.BusinessMinutesBetween(a, b); got != 0 {
		t.Errorf("BusinessMinutesBetween = %v, want 0", got)
	}
}

func TestBusinessMinutesBetween_ReversedRange(t *testing.T) {
	cal := DefaultCalendar()

	a := mustTime(t, 2025, time.June, 3, 12, 0)
	if got := cal.BusinessMinutesBetween(a, a.Add(-time.Hour)); got != 0 {
		t.Errorf("BusinessMinutesBetween reversed = %v, want 0", got)
	}
}

func TestNewCalendar_Timezone(t *testing.T) {
	cal, err := NewCalendar("America/New_York", "09:00", "18:00", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cal.Location.String() != "America/New_York" {
		t.Errorf("location = %s, want America/New_York", cal.Location)
	}
	if cal.StartMinute != 9*60 || cal.EndMinute != 18*60 {
		t.Errorf("window = %d-%d, want 540-1080", cal.StartMinute, cal.EndMinute)
	}
}

func TestNewCalendar_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		timezone string
		start    string
		end      string
		weekdays []string
	}{
		{"bad timezone", "Not/AZone", "", "", nil},
		{"bad clock", "", "8am", "", nil},
		{"end before start", "", "17:00", "08:00", nil},
		{"unknown weekday", "", "", "", []string{"funday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCalendar(tt.timezone, tt.start, tt.end, tt.weekdays); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestNewCalendar_CustomWeekdays(t *testing.T) {
	// Sunday-Thursday work week.
	cal, err := NewCalendar("", "", "", []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cal.Weekdays[time.Sunday] {
		t.Error("Sunday should be a business day")
	}
	if cal.Weekdays[time.Friday] {
		t.Error("Friday should not be a business day")
	}

	// Friday 16:00 with a Sun-Thu week: counting begins Sunday 08:00.
	start := mustTime(t, 2025, time.June, 6, 16, 0)
	got := cal.AddBusinessMinutes(start, 60)
	want := mustTime(t, 2025, time.June, 8, 9, 0)
	if !got.Equal(want) {
		t.Errorf("AddBusinessMinutes(Fri, 60) = %v, want %v", got, want)
	}
}

func TestLoadCalendarFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calendar.yaml")
	content := []byte("timezone: UTC\nworkday_start: \"07:30\"\nworkday_end: \"16:30\"\nweekdays: [monday, tuesday, wednesday, thursday, friday]\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write calendar file: %v", err)
	}

	cal, err := LoadCalendarFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cal.StartMinute != 7*60+30 {
		t.Errorf("start minute = %d, want 450", cal.StartMinute)
	}
	if cal.EndMinute != 16*60+30 {
		t.Errorf("end minute = %d, want 990", cal.EndMinute)
	}
}

func TestLoadCalendarFile_Missing(t *testing.T) {
	if _, err := LoadCalendarFile("/nonexistent/calendar.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
