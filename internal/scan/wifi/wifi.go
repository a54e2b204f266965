// Package wifi lists the names of the wireless networks visible from this
// host.
package wifi

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrUnsupported is returned on platforms without a wifi probe.
var ErrUnsupported = errors.New("wifi scanning is not supported on this platform")

// Scanner returns the visible network names. An empty list is valid.
type Scanner interface {
	VisibleNetworks(ctx context.Context) ([]string, error)
}

// RadioChecker is implemented by scanners that can tell whether the wifi
// radio is switched on.
type RadioChecker interface {
	RadioEnabled(ctx context.Context) (bool, error)
}

// ScannerFunc adapts a function to the Scanner interface.
type ScannerFunc func(ctx context.Context) ([]string, error)

// VisibleNetworks calls f.
func (f ScannerFunc) VisibleNetworks(ctx context.Context) ([]string, error) { return f(ctx) }

// Fallback tries each scanner in turn and returns the first successful
// result.
type Fallback struct {
	Scanners []Scanner
	Logger   *zap.Logger
}

// VisibleNetworks implements Scanner.
func (f *Fallback) VisibleNetworks(ctx context.Context) ([]string, error) {
	var errs []error
	for i, s := range f.Scanners {
		names, err := s.VisibleNetworks(ctx)
		if err == nil {
			return names, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.Logger.Debug("wifi scanner failed, trying next",
			zap.Int("scanner", i),
			zap.Error(err),
		)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrUnsupported
	}
	return nil, fmt.Errorf("all wifi scanners failed: %w", errors.Join(errs...))
}

// RadioEnabled asks the first scanner able to answer.
func (f *Fallback) RadioEnabled(ctx context.Context) (bool, error) {
	for _, s := range f.Scanners {
		if rc, ok := s.(RadioChecker); ok {
			return rc.RadioEnabled(ctx)
		}
	}
	return true, nil
}

// dedupe drops empty names and repeated names, keeping first occurrences.
func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
