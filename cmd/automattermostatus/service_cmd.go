package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matclab/automattermostatus/internal/service"
)

func newServiceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the Windows service",
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Register the agent as a Windows service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			configPath := opts.configPath
			if configPath != "" {
				if configPath, err = filepath.Abs(configPath); err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
			}
			if err := service.InstallService(exe, configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "service %s installed\n", service.ServiceName)
			return nil
		},
	}

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the Windows service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := service.UninstallService(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "service %s removed\n", service.ServiceName)
			return nil
		},
	}

	runCmd := &cobra.Command{
		Use:    "run",
		Short:  "Entry point used by the service manager",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd, opts)
		},
	}

	cmd.AddCommand(installCmd, uninstallCmd, runCmd)
	return cmd
}
