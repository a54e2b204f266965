// Package mic tells whether one of a set of watched applications is
// currently capturing from a microphone.
package mic

import (
	"context"
	"path/filepath"
)

// Detector reports microphone use by watched applications.
type Detector interface {
	InUse(ctx context.Context, apps []string) (bool, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, apps []string) (bool, error)

// InUse calls f.
func (f DetectorFunc) InUse(ctx context.Context, apps []string) (bool, error) { return f(ctx, apps) }

// Idle is a Detector that never sees the microphone in use.
type Idle struct{}

// InUse always returns false.
func (Idle) InUse(context.Context, []string) (bool, error) { return false, nil }

// matchesAny reports whether the program name, or its base name, is one of
// apps.
func matchesAny(program string, apps []string) bool {
	base := filepath.Base(program)
	for _, a := range apps {
		if a == program || a == base {
			return true
		}
	}
	return false
}
