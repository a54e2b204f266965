//go:build windows

package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"
	"golang.org/x/sys/windows/svc/mgr"
)

// handler implements svc.Handler for the Windows Service Control Manager.
type handler struct {
	run    RunFunc
	logger *zap.Logger
}

// Execute implements svc.Handler. It manages the service lifecycle:
// StartPending -> Running -> (handles Stop/Shutdown) -> StopPending -> exit.
func (h *handler) Execute(_ []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.run(ctx)
	}()

	changes <- svc.Status{
		State:   svc.Running,
		Accepts: svc.AcceptStop | svc.AcceptShutdown,
	}

	for {
		select {
		case err := <-done:
			if err != nil {
				h.logger.Error("agent exited with error", zap.Error(err))
				return false, 1
			}
			return false, 0

		case cr := <-r:
			switch cr.Cmd {
			case svc.Stop, svc.Shutdown:
				h.logger.Info("service stop requested")
				changes <- svc.Status{State: svc.StopPending}
				cancel()

				select {
				case <-done:
				case <-time.After(30 * time.Second):
					h.logger.Warn("agent did not stop within timeout")
				}
				return false, 0

			case svc.Interrogate:
				changes <- cr.CurrentStatus
			}
		}
	}
}

// RunAsService runs fn as the Windows service. Only call it when the process
// was started by the SCM.
func RunAsService(fn RunFunc, logger *zap.Logger) error {
	return svc.Run(ServiceName, &handler{run: fn, logger: logger})
}

// InstallService registers exePath as an automatically started service
// reading its settings from configPath.
func InstallService(exePath, configPath string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to service manager: %w", err)
	}
	defer m.Disconnect()

	svcConfig := mgr.Config{
		DisplayName:  ServiceDisplayName,
		Description:  ServiceDescription,
		ServiceType:  windows.SERVICE_WIN32_OWN_PROCESS,
		StartType:    mgr.StartAutomatic,
		ErrorControl: mgr.ErrorNormal,
	}

	s, err := m.CreateService(ServiceName, exePath, svcConfig, buildServiceArgs(configPath)...)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer s.Close()

	recoveryActions := []mgr.RecoveryAction{
		{Type: mgr.ServiceRestart, Delay: 5 * time.Second},
		{Type: mgr.ServiceRestart, Delay: 30 * time.Second},
		{Type: mgr.ServiceRestart, Delay: 60 * time.Second},
	}
	if err := s.SetRecoveryActions(recoveryActions, 86400); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to set recovery actions: %v\n", err)
	}

	if err := eventlog.InstallAsEventCreate(ServiceName, eventlog.Error|eventlog.Warning|eventlog.Info); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to install eventlog source: %v\n", err)
	}

	return nil
}

// UninstallService stops and removes the service registration.
func UninstallService() error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(ServiceName)
	if err != nil {
		return fmt.Errorf("open service: %w", err)
	}
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return fmt.Errorf("query service status: %w", err)
	}

	if status.State != svc.Stopped {
		if _, err := s.Control(svc.Stop); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to stop service: %v\n", err)
		}

		deadline := time.Now().Add(30 * time.Second)
		for time.Now().Before(deadline) {
			status, err = s.Query()
			if err != nil || status.State == svc.Stopped {
				break
			}
			time.Sleep(500 * time.Millisecond)
		}
	}

	if err := s.Delete(); err != nil {
		return fmt.Errorf("delete service: %w", err)
	}

	if err := eventlog.Remove(ServiceName); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to remove eventlog source: %v\n", err)
	}

	return nil
}

// IsService reports whether the process runs as a Windows service.
func IsService() (bool, error) {
	return svc.IsWindowsService()
}
