package sla

import (
	"testing"
	"time"

	"github.com/slaguard/slaguard/internal/database"
)

func calendarPolicy(businessHours bool) *database.SLAPolicy {
	return &database.SLAPolicy{
		Name:                    "test-policy",
		AckTargetMinutes:        60,
		ResolutionTargetMinutes: 480,
		BusinessHoursOnly:       businessHours,
		Timezone:                "UTC",
		WorkdayStart:            "08:00",
		WorkdayEnd:              "17:00",
		WarningThresholdPct:     75,
	}
}

func TestComputeDeadlines_WallClock(t *testing.T) {
	p := calendarPolicy(false)
	start := mustTime(t, 2025, time.June, 6, 16, 0) // Friday

	d, err := ComputeDeadlines(start, p, DefaultCalendar())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if want := start.Add(time.Hour); !d.AckDeadline.Equal(want) {
		t.Errorf("ack deadline = %v, want %v", d.AckDeadline, want)
	}
	// Wall-clock mode runs straight through the weekend.
	if want := start.Add(8 * time.Hour); !d.ResolutionDeadline.Equal(want) {
		t.Errorf("resolution deadline = %v, want %v", d.ResolutionDeadline, want)
	}
}

func TestComputeDeadlines_BusinessHours(t *testing.T) {
	p := calendarPolicy(true)
	start := mustTime(t, 2025, time.June, 6, 16, 0) // Friday

	d, err := ComputeDeadlines(start, p, DefaultCalendar())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 60 min ack target: all consumed in the final Friday hour.
	if want := mustTime(t, 2025, time.June, 6, 17, 0); !d.AckDeadline.Equal(want) {
		t.Errorf("ack deadline = %v, want %v", d.AckDeadline, want)
	}
	// 480 min resolution target rolls over the weekend to Monday 15:00.
	if want := mustTime(t, 2025, time.June, 9, 15, 0); !d.ResolutionDeadline.Equal(want) {
		t.Errorf("resolution deadline = %v, want %v", d.ResolutionDeadline, want)
	}
}

func TestComputeDeadlines_BadTimezone(t *testing.T) {
	p := calendarPolicy(true)
	p.Timezone = "Not/AZone"

	if _, err := ComputeDeadlines(time.Now(), p, DefaultCalendar()); err == nil {
		t.Error("expected error for invalid policy timezone")
	}
}

func TestElapsedPct_WallClock(t *testing.T) {
	p := calendarPolicy(false)
	start := mustTime(t, 2025, time.June, 3, 9, 0)

	pct, err := ElapsedPct(start.Add(30*time.Minute), start, 60, p, DefaultCalendar())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pct != 50 {
		t.Errorf("elapsed pct = %v, want 50", pct)
	}
}

func TestElapsedPct_BusinessHoursIgnoresWeekend(t *testing.T) {
	p := calendarPolicy(true)

	// Friday 16:00 -> Monday 09:00 is 120 business minutes of a 480 target.
	start := mustTime(t, 2025, time.June, 6, 16, 0)
	now := mustTime(t, 2025, time.June, 9, 9, 0)

	pct, err := ElapsedPct(now, start, 480, p, DefaultCalendar())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pct != 25 {
		t.Errorf("elapsed pct = %v, want 25", pct)
	}
}

func TestElapsedPct_ZeroTarget(t *testing.T) {
	p := calendarPolicy(false)
	pct, err := ElapsedPct(time.Now(), time.Now(), 0, p, DefaultCalendar())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pct != 100 {
		t.Errorf("elapsed pct = %v, want 100 for zero target", pct)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		pct       float64
		threshold int
		want      database.SLAState
	}{
		{"well under threshold", 10, 75, database.SLAStateOnTrack},
		{"just under threshold", 74.9, 75, database.SLAStateOnTrack},
		{"at threshold", 75, 75, database.SLAStateAtRisk},
		{"between threshold and 100", 99.9, 75, database.SLAStateAtRisk},
		{"at 100", 100, 75, database.SLAStateBreached},
		{"past 100", 250, 75, database.SLAStateBreached},
		{"zero threshold warns immediately", 0.1, 0, database.SLAStateAtRisk},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.pct, tt.threshold); got != tt.want {
				t.Errorf("Classify(%v, %d) = %s, want %s", tt.pct, tt.threshold, got, tt.want)
			}
		})
	}
}
