//go:build windows

package wifi

import (
	"go.uber.org/zap"

	"github.com/matclab/automattermostatus/internal/command"
)

// New returns the Windows scanner backed by netsh.
func New(iface string, runner command.Runner, _ *zap.Logger) Scanner {
	return &NetshScanner{Runner: runner, Interface: iface}
}
