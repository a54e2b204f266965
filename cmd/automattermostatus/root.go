package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matclab/automattermostatus/internal/config"
	"github.com/matclab/automattermostatus/internal/version"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "automattermostatus",
		Short: "Set the Mattermost custom status from the visible wifi networks",
		Long: `automattermostatus periodically looks at the visible wifi networks and at
the applications using the microphone, and updates the Mattermost custom
status accordingly. Without subcommand it runs the agent.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd, opts)
		},
	}
	root.SetVersionTemplate(version.Info() + "\n")

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the configuration file")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(opts),
		newConfigCmd(opts),
		newStateCmd(opts),
		newServiceCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
