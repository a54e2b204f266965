//go:build !windows

package service

import "go.uber.org/zap"

// RunAsService is not supported on this platform.
func RunAsService(_ RunFunc, _ *zap.Logger) error { return ErrUnsupported }

// InstallService is not supported on this platform.
func InstallService(_, _ string) error { return ErrUnsupported }

// UninstallService is not supported on this platform.
func UninstallService() error { return ErrUnsupported }

// IsService always returns false on this platform.
func IsService() (bool, error) { return false, nil }
