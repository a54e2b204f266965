package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matclab/automattermostatus/internal/config"
	"github.com/matclab/automattermostatus/internal/state"
)

func newStateCmd(opts *rootOptions) *cobra.Command {
	var historyLimit int

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the persisted status",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the last published status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.LoadConfig(opts.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			store, err := state.Inspect(cmd.Context(), v.GetString("state_backend"), v.GetString("state_dir"))
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer store.Close()

			st, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			if st == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no status published yet")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "status:     %s\n", st.Identity)
				fmt.Fprintf(cmd.OutOrStdout(), "applied at: %s\n", formatTime(st.AppliedAt))
				fmt.Fprintf(cmd.OutOrStdout(), "expires at: %s\n", formatTime(st.ExpiresAt))
			}

			sq, ok := store.(*state.SQLiteStore)
			if !ok || historyLimit == 0 {
				return nil
			}
			history, err := sq.History(cmd.Context(), historyLimit)
			if err != nil {
				return err
			}
			if len(history) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "history:")
			}
			for _, h := range history {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s\n", formatTime(h.AppliedAt), h.Identity)
			}
			return nil
		},
	}
	showCmd.Flags().IntVar(&historyLimit, "history", 10, "number of history entries to print (sqlite backend, -1 for all)")

	cmd.AddCommand(showCmd)
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
