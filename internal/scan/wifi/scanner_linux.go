//go:build linux

package wifi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mdwifi "github.com/mdlayher/wifi"
	"go.uber.org/zap"

	"github.com/matclab/automattermostatus/internal/command"
)

// New returns the Linux scanner: nl80211 on iface, then nmcli on any device.
func New(iface string, runner command.Runner, logger *zap.Logger) Scanner {
	return &Fallback{
		Scanners: []Scanner{
			&nl80211Scanner{iface: iface, logger: logger},
			&NmcliScanner{Runner: runner},
		},
		Logger: logger,
	}
}

type nl80211Scanner struct {
	iface  string
	logger *zap.Logger
}

// VisibleNetworks triggers a scan on the interface and returns the SSIDs of
// the BSS list. Without CAP_NET_ADMIN the scan is refused and the kernel's
// cached results are used.
func (s *nl80211Scanner) VisibleNetworks(ctx context.Context) ([]string, error) {
	c, err := mdwifi.New()
	if err != nil {
		return nil, fmt.Errorf("open nl80211: %w", err)
	}
	defer c.Close()

	ifaces, err := c.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerate wifi interfaces: %w", err)
	}

	ifi := pickInterface(ifaces, s.iface)
	if ifi == nil {
		return nil, errors.New("no station wifi interface")
	}
	if ifi.Name != s.iface {
		s.logger.Debug("configured wifi interface not found, using another station",
			zap.String("configured", s.iface),
			zap.String("interface", ifi.Name),
		)
	}

	if scanErr := c.Scan(ctx, ifi); scanErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isPermissionError(scanErr) {
			s.logger.Debug("wifi active scan requires elevated privileges, using cached results")
		} else if !errors.Is(scanErr, mdwifi.ErrScanAborted) {
			s.logger.Debug("wifi active scan failed, using cached results", zap.Error(scanErr))
		}
	}

	bssList, err := c.AccessPoints(ifi)
	if err != nil {
		return nil, fmt.Errorf("get access points: %w", err)
	}
	names := make([]string, 0, len(bssList))
	for _, bss := range bssList {
		names = append(names, bss.SSID)
	}
	return dedupe(names), nil
}

// pickInterface returns the station interface called name, or the first
// station interface when there is none by that name.
func pickInterface(ifaces []*mdwifi.Interface, name string) *mdwifi.Interface {
	var first *mdwifi.Interface
	for _, ifi := range ifaces {
		if ifi.Type != mdwifi.InterfaceTypeStation {
			continue
		}
		if ifi.Name == name {
			return ifi
		}
		if first == nil {
			first = ifi
		}
	}
	return first
}

func isPermissionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "operation not permitted")
}
