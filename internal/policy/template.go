// Package policy decides which custom status should be shown for a given set
// of local signals, the current time and the user's work calendar.
package policy

import (
	"fmt"
	"strings"
)

// templateSeparator splits the textual "wifi_substring::emoji::text" form.
const templateSeparator = "::"

// StatusTemplate is a custom status associated with a wifi name substring.
// A template with an empty Trigger is the off-time status.
type StatusTemplate struct {
	Trigger string
	Emoji   string
	Text    string
}

// ParseTemplate parses the "wifi_substring::emoji::text" form used in
// configuration files and on the command line.
func ParseTemplate(s string) (StatusTemplate, error) {
	parts := strings.Split(s, templateSeparator)
	if len(parts) != 3 {
		return StatusTemplate{}, fmt.Errorf("status %q: expected exactly two %q separators", s, templateSeparator)
	}
	return StatusTemplate{
		Trigger: parts[0],
		Emoji:   parts[1],
		Text:    parts[2],
	}, nil
}

// ParseTemplates parses every entry, preserving order.
func ParseTemplates(entries []string) ([]StatusTemplate, error) {
	out := make([]StatusTemplate, 0, len(entries))
	for _, e := range entries {
		t, err := ParseTemplate(e)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// IsOffTime reports whether t is the designated off-time entry.
func (t StatusTemplate) IsOffTime() bool {
	return t.Trigger == ""
}

// Identity returns a stable key used to compare a desired status with the
// one that was last applied.
func (t StatusTemplate) Identity() string {
	return t.Trigger + templateSeparator + t.Emoji + templateSeparator + t.Text
}

func (t StatusTemplate) String() string {
	return fmt.Sprintf(":%s: %s", t.Emoji, t.Text)
}

// Matches reports whether the template trigger is contained in any of the
// visible network names. Off-time templates never match.
func (t StatusTemplate) Matches(networks []string) bool {
	if t.IsOffTime() {
		return false
	}
	for _, n := range networks {
		if strings.Contains(n, t.Trigger) {
			return true
		}
	}
	return false
}

// offTime returns the first off-time template, if any.
func offTime(templates []StatusTemplate) (StatusTemplate, bool) {
	for _, t := range templates {
		if t.IsOffTime() {
			return t, true
		}
	}
	return StatusTemplate{}, false
}
