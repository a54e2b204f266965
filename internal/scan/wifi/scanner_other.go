//go:build !linux && !darwin && !windows

package wifi

import (
	"context"

	"go.uber.org/zap"

	"github.com/matclab/automattermostatus/internal/command"
)

// New returns a scanner that always fails with ErrUnsupported.
func New(_ string, _ command.Runner, _ *zap.Logger) Scanner {
	return ScannerFunc(func(context.Context) ([]string, error) {
		return nil, ErrUnsupported
	})
}
