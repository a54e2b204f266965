// Package service runs the agent under the Windows Service Control Manager.
// Other platforms rely on their own supervisors (systemd user units,
// launchd) and get stubs returning ErrUnsupported.
package service

import (
	"context"
	"errors"
)

const (
	// ServiceName is the name used for SCM registration.
	ServiceName = "automattermostatus"
	// ServiceDisplayName is the name shown in services.msc.
	ServiceDisplayName = "Automattermostatus"
	// ServiceDescription is the description shown in service properties.
	ServiceDescription = "Updates the Mattermost custom status from the visible wifi networks"
)

// ErrUnsupported is returned by the service operations outside Windows.
var ErrUnsupported = errors.New("windows service mode is not supported on this platform")

// RunFunc is the body of the service. It must return once ctx is cancelled.
type RunFunc func(ctx context.Context) error

// buildServiceArgs returns the arguments the SCM passes to the executable
// when it starts the service.
func buildServiceArgs(configPath string) []string {
	args := []string{"service", "run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}
