package policy

import (
	"strings"
	"time"
)

// Signals are the local observations sampled on each poll.
type Signals struct {
	// Networks holds the visible wifi network names. Empty when the radio is
	// off or nothing was detected.
	Networks []string
	// MicInUse is true when a watched application uses the microphone.
	MicInUse bool
}

// Rules is the immutable status table and calendar the engine decides with.
type Rules struct {
	Templates []StatusTemplate
	Window    TimeWindow
	OffDays   OffDays
	// DoNotDisturb is forced while the microphone is in use.
	DoNotDisturb StatusTemplate
	// Expiry is the time of day at which a published status expires. Unset
	// requests no expiration.
	Expiry TimeOfDay
}

// Reason values explain a Decision in logs and metrics.
const (
	ReasonQuietHours = "quiet_hours"
	ReasonMicInUse   = "mic_in_use"
	ReasonOffDay     = "off_day"
	ReasonMatched    = "wifi_matched"
	ReasonFallback   = "no_match_fallback"
	ReasonNoOffTime  = "no_offtime_status"
	ReasonNoMatch    = "no_match"
)

// Decision is the outcome of Decide. Change is false for "no change".
type Decision struct {
	Change    bool
	Status    StatusTemplate
	ExpiresAt time.Time
	Reason    string
}

// ParseExpiry parses the expiry setting. "0" and "" disable expiration.
func ParseExpiry(s string) (TimeOfDay, error) {
	if s = strings.TrimSpace(s); s == "" || s == "0" {
		return Unset, nil
	}
	return ParseTimeOfDay(s)
}

// Decide maps the sampled signals at instant now to the desired status.
// It is pure: identical inputs always give identical outputs.
func Decide(sig Signals, now time.Time, r Rules) Decision {
	if !r.Window.Contains(now) {
		return noChange(ReasonQuietHours)
	}

	if sig.MicInUse {
		return r.update(r.DoNotDisturb, now, ReasonMicInUse)
	}

	if r.OffDays.IsOff(now) {
		if t, ok := offTime(r.Templates); ok {
			return r.update(t, now, ReasonOffDay)
		}
		return noChange(ReasonNoOffTime)
	}

	for _, t := range r.Templates {
		if t.Matches(sig.Networks) {
			return r.update(t, now, ReasonMatched)
		}
	}

	if t, ok := offTime(r.Templates); ok {
		return r.update(t, now, ReasonFallback)
	}
	return noChange(ReasonNoMatch)
}

// ExpiresAt resolves the configured expiry on now's date. The zero time is
// returned when no expiry is configured or when it is already past.
func (r Rules) ExpiresAt(now time.Time) time.Time {
	if !r.Expiry.IsSet() {
		return time.Time{}
	}
	t := r.Expiry.On(now)
	if !t.After(now) {
		return time.Time{}
	}
	return t
}

func (r Rules) update(t StatusTemplate, now time.Time, reason string) Decision {
	return Decision{
		Change:    true,
		Status:    t,
		ExpiresAt: r.ExpiresAt(now),
		Reason:    reason,
	}
}

func noChange(reason string) Decision {
	return Decision{Reason: reason}
}
