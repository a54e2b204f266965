package wifi

import (
	"bytes"
	"context"
	"fmt"

	"github.com/matclab/automattermostatus/internal/command"
)

// AirportPath is the location of the macOS airport utility.
const AirportPath = "/System/Library/PrivateFrameworks/Apple80211.framework/Versions/A/Resources/airport"

// NmcliScanner asks NetworkManager for the visible networks.
type NmcliScanner struct {
	Runner command.Runner
}

// VisibleNetworks implements Scanner.
func (s *NmcliScanner) VisibleNetworks(ctx context.Context) ([]string, error) {
	out, err := s.Runner.Run(ctx, "nmcli", "-t", "-m", "tabular", "-f", "SSID", "device", "wifi")
	if err != nil {
		return nil, fmt.Errorf("nmcli wifi list: %w", err)
	}
	return ParseNmcli(string(out)), nil
}

// RadioEnabled implements RadioChecker.
func (s *NmcliScanner) RadioEnabled(ctx context.Context) (bool, error) {
	out, err := s.Runner.Run(ctx, "nmcli", "radio", "wifi")
	if err != nil {
		return false, fmt.Errorf("nmcli radio: %w", err)
	}
	return ParseNmcliRadio(string(out)), nil
}

// NetshScanner lists networks with `netsh wlan show networks`.
type NetshScanner struct {
	Runner    command.Runner
	Interface string
}

// VisibleNetworks implements Scanner.
func (s *NetshScanner) VisibleNetworks(ctx context.Context) ([]string, error) {
	args := []string{"wlan", "show", "networks"}
	if s.Interface != "" {
		args = append(args, "interface="+s.Interface)
	}
	out, err := s.Runner.Run(ctx, "netsh", args...)
	if err != nil {
		return nil, fmt.Errorf("netsh wlan: %w", err)
	}
	return ParseNetsh(string(out)), nil
}

// AirportScanner lists networks with the macOS airport utility.
type AirportScanner struct {
	Runner command.Runner
}

// VisibleNetworks implements Scanner.
func (s *AirportScanner) VisibleNetworks(ctx context.Context) ([]string, error) {
	out, err := s.Runner.Run(ctx, AirportPath, "-s", "-x")
	if err != nil {
		return nil, fmt.Errorf("airport scan: %w", err)
	}
	return ParseAirport(bytes.NewReader(out))
}
