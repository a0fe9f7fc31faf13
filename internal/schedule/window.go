// Package schedule decides whether an automated send may happen at a given
// clock time. Everything here is pure; callers convert now into the
// workspace timezone first.
package schedule

import (
	"fmt"
	"time"
)

// Clock is a minute-granular time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(value string) (Clock, error) {
	var c Clock
	if len(value) != 5 || value[2] != ':' {
		return c, fmt.Errorf("invalid clock %q: want HH:MM", value)
	}
	if _, err := fmt.Sscanf(value, "%02d:%02d", &c.Hour, &c.Minute); err != nil {
		return c, fmt.Errorf("invalid clock %q: %w", value, err)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return c, fmt.Errorf("invalid clock %q: out of range", value)
	}
	return c, nil
}

func (c Clock) minutes() int {
	return c.Hour*60 + c.Minute
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// IsWithinWindow reports whether now falls inside [start, end], both bounds
// inclusive. A window whose start is after its end wraps midnight. An empty
// start and end means no window is configured and sends are always allowed;
// any other unparsable bound keeps the window closed.
func IsWithinWindow(now time.Time, start, end string) bool {
	if start == "" && end == "" {
		return true
	}
	s, err := ParseClock(start)
	if err != nil {
		return false
	}
	e, err := ParseClock(end)
	if err != nil {
		return false
	}

	current := minuteOfDay(now)
	if s.minutes() <= e.minutes() {
		return current >= s.minutes() && current <= e.minutes()
	}
	return current >= s.minutes() || current <= e.minutes()
}

// NextWindowStart returns today's start in now's location if that minute is
// still ahead, otherwise the same clock time tomorrow. An unparsable start
// pushes a full day ahead.
func NextWindowStart(start string, now time.Time) time.Time {
	s, err := ParseClock(start)
	if err != nil {
		return now.Add(24 * time.Hour).Truncate(time.Minute)
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, 0, 0, now.Location())
	if today.After(now) {
		return today
	}
	return time.Date(now.Year(), now.Month(), now.Day()+1, s.Hour, s.Minute, 0, 0, now.Location())
}
