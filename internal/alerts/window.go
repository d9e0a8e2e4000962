package alerts

import (
	"fmt"
	"strings"
	"time"
)

// Slot is the quarter-hour granularity of the alert job.
const Slot = 15 * time.Minute

// windowHour is the local hour whose first quarter is the alert window.
const windowHour = 1

// QuarterSlots returns every quarter-hour slot from scheduledAt (truncated to
// the quarter) up to, but excluding, now. At least one slot is always
// returned, so a run executed at or before its scheduled time still covers it.
func QuarterSlots(scheduledAt, now time.Time) []time.Time {
	t := scheduledAt.Truncate(Slot)
	slots := []time.Time{t}
	for t = t.Add(Slot); t.Before(now); t = t.Add(Slot) {
		slots = append(slots, t)
	}
	return slots
}

// InAlertWindow reports whether t falls in the quarter hour starting at
// 01:00 on loc's wall clock for t's local date. When a DST gap skips 01:00
// the window starts one elapsed hour after local midnight. When 01:00 occurs
// twice only its first occurrence counts.
func InAlertWindow(t time.Time, loc *time.Location) bool {
	lt := t.In(loc)
	y, m, d := lt.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc).Add(windowHour * time.Hour)
	if wall := time.Date(y, m, d, windowHour, 0, 0, 0, loc); wall.Hour() == windowHour {
		start = wall
	}
	return !t.Before(start) && t.Before(start.Add(Slot))
}

// EligibleSlot returns the first slot that is inside loc's alert window.
func EligibleSlot(slots []time.Time, loc *time.Location) (time.Time, bool) {
	for _, s := range slots {
		if InAlertWindow(s, loc) {
			return s, true
		}
	}
	return time.Time{}, false
}

// LoadZone resolves an IANA zone name, falling back to def for empty names.
func LoadZone(name string, def *time.Location) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if def == nil {
			return time.UTC, nil
		}
		return def, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", name, err)
	}
	return loc, nil
}

// capSlots keeps the newest slots covering at most maxSpan. A non-positive
// maxSpan keeps everything.
func capSlots(slots []time.Time, maxSpan time.Duration) []time.Time {
	if maxSpan <= 0 || len(slots) == 0 {
		return slots
	}
	n := int(maxSpan / Slot)
	if n < 1 {
		n = 1
	}
	if len(slots) <= n {
		return slots
	}
	return slots[len(slots)-n:]
}
