//go:build darwin

package wifi

import (
	"go.uber.org/zap"

	"github.com/matclab/automattermostatus/internal/command"
)

// New returns the macOS scanner. The interface name is not used.
func New(_ string, runner command.Runner, _ *zap.Logger) Scanner {
	return &AirportScanner{Runner: runner}
}
