// Package sla holds the pure policy-evaluation logic: policy resolution,
// business-hours clock arithmetic, deadline computation and target
// classification. Everything here is side-effect-free so it can be tested
// against fixed calendars.
package sla

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Calendar describes the business window used when a policy counts target
// minutes only during working hours. Holidays are out of scope: the model
// is a weekday set plus a daily window in a timezone.
type Calendar struct {
	Weekdays    map[time.Weekday]bool
	StartMinute int // minutes past midnight, e.g. 480 for 08:00
	EndMinute   int // minutes past midnight, e.g. 1020 for 17:00
	Location    *time.Location
}

// CalendarFile is the on-disk YAML form of the default business calendar.
type CalendarFile struct {
	Timezone     string   `yaml:"timezone"`
	WorkdayStart string   `yaml:"workday_start"`
	WorkdayEnd   string   `yaml:"workday_end"`
	Weekdays     []string `yaml:"weekdays"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// DefaultCalendar returns the Mon-Fri 08:00-17:00 UTC calendar used when no
// calendar file is configured.
func DefaultCalendar() Calendar {
	return Calendar{
		Weekdays: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
		},
		StartMinute: 8 * 60,
		EndMinute:   17 * 60,
		Location:    time.UTC,
	}
}

// NewCalendar builds a calendar from policy-level fields, using the default
// weekday set when none is given. Weekends are non-business unless the
// weekday list says otherwise.
func NewCalendar(timezone, workdayStart, workdayEnd string, weekdays []string) (Calendar, error) {
	cal := DefaultCalendar()

	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return Calendar{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		cal.Location = loc
	}

	if workdayStart != "" {
		m, err := parseClock(workdayStart)
		if err != nil {
			return Calendar{}, err
		}
		cal.StartMinute = m
	}
	if workdayEnd != "" {
		m, err := parseClock(workdayEnd)
		if err != nil {
			return Calendar{}, err
		}
		cal.EndMinute = m
	}
	if cal.EndMinute <= cal.StartMinute {
		return Calendar{}, fmt.Errorf("workday end %q must be after start %q", workdayEnd, workdayStart)
	}

	if len(weekdays) > 0 {
		cal.Weekdays = make(map[time.Weekday]bool, len(weekdays))
		for _, name := range weekdays {
			wd, ok := weekdayNames[normalizeWeekday(name)]
			if !ok {
				return Calendar{}, fmt.Errorf("unknown weekday %q", name)
			}
			cal.Weekdays[wd] = true
		}
	}

	return cal, nil
}

// LoadCalendarFile reads a YAML calendar description from disk.
func LoadCalendarFile(path string) (Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Calendar{}, fmt.Errorf("failed to read calendar file: %w", err)
	}

	var file CalendarFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Calendar{}, fmt.Errorf("failed to parse calendar file: %w", err)
	}

	return NewCalendar(file.Timezone, file.WorkdayStart, file.WorkdayEnd, file.Weekdays)
}

// parseClock parses "HH:MM" into minutes past midnight.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q (want HH:MM)", s)
	}
	return h*60 + m, nil
}

func normalizeWeekday(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r += 32
		}
		out = append(out, r)
	}
	return string(out)
}

// windowFor returns the open and close instants of the business window on
// the day containing t (in the calendar's location).
func (c Calendar) windowFor(t time.Time) (open, close time.Time) {
	local := t.In(c.Location)
	year, month, day := local.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, c.Location)
	open = midnight.Add(time.Duration(c.StartMinute) * time.Minute)
	close = midnight.Add(time.Duration(c.EndMinute) * time.Minute)
	return open, close
}

// isBusinessDay reports whether the day containing t is a business day.
func (c Calendar) isBusinessDay(t time.Time) bool {
	return c.Weekdays[t.In(c.Location).Weekday()]
}

// nextOpen returns the first window-open instant at or after t.
func (c Calendar) nextOpen(t time.Time) time.Time {
	local := t.In(c.Location)
	for {
		open, close := c.windowFor(local)
		if c.isBusinessDay(local) && local.Before(close) {
			if local.Before(open) {
				return open
			}
			return local
		}
		// Advance to the next day's midnight and try again.
		year, month, day := local.Date()
		local = time.Date(year, month, day, 0, 0, 0, 0, c.Location).AddDate(0, 0, 1)
	}
}

// AddBusinessMinutes returns the first instant at which the given number of
// business minutes has elapsed after start. A start outside the window
// begins counting at the next window open; targets spanning multiple days
// roll across non-business time deterministically.
func (c Calendar) AddBusinessMinutes(start time.Time, minutes int) time.Time {
	remaining := time.Duration(minutes) * time.Minute
	cur := c.nextOpen(start)

	for {
		_, close := c.windowFor(cur)
		available := close.Sub(cur)
		if remaining <= available {
			return cur.Add(remaining)
		}
		remaining -= available
		cur = c.nextOpen(close)
	}
}

// BusinessMinutesBetween returns the number of business minutes between a
// and b (zero when b is not after a).
func (c Calendar) BusinessMinutesBetween(a, b time.Time) float64 {
	if !b.After(a) {
		return 0
	}

	var total time.Duration
	cur := c.nextOpen(a)

	for cur.Before(b) {
		_, close := c.windowFor(cur)
		end := close
		if b.Before(end) {
			end = b
		}
		if end.After(cur) {
			total += end.Sub(cur)
		}
		if !close.Before(b) {
			break
		}
		cur = c.nextOpen(close)
	}

	return total.Minutes()
}
