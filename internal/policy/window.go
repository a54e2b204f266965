package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time expressed in minutes since midnight.
type TimeOfDay int

// Unset marks a window bound that was not configured.
const Unset TimeOfDay = -1

// ParseTimeOfDay parses "H", "H:M" or "HH:MM". An empty string yields Unset.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unset, nil
	}

	hh, mm, hasMinutes := strings.Cut(s, ":")
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return Unset, fmt.Errorf("time of day %q: invalid hour", s)
	}
	m := 0
	if hasMinutes {
		m, err = strconv.Atoi(mm)
		if err != nil || m < 0 || m > 59 {
			return Unset, fmt.Errorf("time of day %q: invalid minutes", s)
		}
	}
	return TimeOfDay(h*60 + m), nil
}

// Of returns the time of day of t in t's location.
func Of(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// On returns the instant at which this time of day occurs on t's date.
func (d TimeOfDay) On(t time.Time) time.Time {
	y, mo, day := t.Date()
	return time.Date(y, mo, day, int(d)/60, int(d)%60, 0, 0, t.Location())
}

// IsSet reports whether d holds a configured value.
func (d TimeOfDay) IsSet() bool {
	return d >= 0
}

func (d TimeOfDay) String() string {
	if !d.IsSet() {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", int(d)/60, int(d)%60)
}

// TimeWindow is the half-open daily interval [Begin, End) during which status
// updates are allowed. Begin after End describes an overnight window. A
// missing bound leaves that side of the day open.
type TimeWindow struct {
	Begin TimeOfDay
	End   TimeOfDay
}

// AlwaysOpen is a window without bounds.
var AlwaysOpen = TimeWindow{Begin: Unset, End: Unset}

// ParseWindow builds a window from two "hh:mm" strings.
func ParseWindow(begin, end string) (TimeWindow, error) {
	b, err := ParseTimeOfDay(begin)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("begin: %w", err)
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("end: %w", err)
	}
	return TimeWindow{Begin: b, End: e}, nil
}

// Contains reports whether now falls inside the window.
func (w TimeWindow) Contains(now time.Time) bool {
	n := Of(now)
	switch {
	case !w.Begin.IsSet() && !w.End.IsSet():
		return true
	case !w.Begin.IsSet():
		return n < w.End
	case !w.End.IsSet():
		return n >= w.Begin
	case w.Begin <= w.End:
		return n >= w.Begin && n < w.End
	default:
		// Overnight range: e.g., 22:00 to 06:00
		return n >= w.Begin || n < w.End
	}
}
