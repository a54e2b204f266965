package policy

import (
	"fmt"
	"strings"
	"time"
)

// Parity selects the ISO weeks on which an off day applies.
type Parity int

const (
	EveryWeek Parity = iota
	EvenWeek
	OddWeek
)

func (p Parity) String() string {
	switch p {
	case EveryWeek:
		return "EveryWeek"
	case EvenWeek:
		return "EvenWeek"
	case OddWeek:
		return "OddWeek"
	default:
		return fmt.Sprintf("Parity(%d)", int(p))
	}
}

// ParseParity accepts the parity names case-insensitively.
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "everyweek", "every", "all":
		return EveryWeek, nil
	case "evenweek", "even":
		return EvenWeek, nil
	case "oddweek", "odd":
		return OddWeek, nil
	}
	return EveryWeek, fmt.Errorf("unknown week parity %q", s)
}

// ParseWeekday accepts English weekday names, full or abbreviated to three
// letters, case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}

// OffDays maps a weekday to the weeks on which the user does not work.
// Weekdays without an entry are workdays.
type OffDays map[time.Weekday]Parity

// ParseOffDays converts a weekday-name to parity-name mapping.
func ParseOffDays(raw map[string]string) (OffDays, error) {
	out := make(OffDays, len(raw))
	for day, parity := range raw {
		d, err := ParseWeekday(day)
		if err != nil {
			return nil, err
		}
		p, err := ParseParity(parity)
		if err != nil {
			return nil, fmt.Errorf("offday %s: %w", day, err)
		}
		out[d] = p
	}
	return out, nil
}

// IsOff reports whether t falls on an off day.
func (o OffDays) IsOff(t time.Time) bool {
	parity, ok := o[t.Weekday()]
	if !ok {
		return false
	}
	_, week := t.ISOWeek()
	switch parity {
	case EvenWeek:
		return week%2 == 0
	case OddWeek:
		return week%2 == 1
	default:
		return true
	}
}
