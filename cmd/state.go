package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-to-sheets/config"
	"github.com/dhcgn/inbox-to-sheets/state"
)

// NewStateCmd returns the "state" command group.
func NewStateCmd() *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the local sync state",
	}
	stateCmd.AddCommand(newStateShowCmd())
	return stateCmd
}

func newStateShowCmd() *cobra.Command {
	var listIDs bool

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show processed message count and last run time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd, nil)
			if err != nil {
				return err
			}
			store, err := state.NewFileStore(cfg.StateFile, slog.Default())
			if err != nil {
				return err
			}

			st := store.Load()
			snap := st.Snapshot()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "State file:          %s\n", store.Path())
			fmt.Fprintf(out, "Processed messages:  %d\n", snap.Processed)
			if snap.LastRun != nil {
				fmt.Fprintf(out, "Last run:            %s (%s ago)\n", snap.LastRun.Format(time.RFC3339), time.Since(*snap.LastRun).Round(time.Second))
			} else {
				fmt.Fprintln(out, "Last run:            never")
			}

			if listIDs {
				for _, id := range st.ProcessedIDs() {
					fmt.Fprintln(out, id)
				}
			}
			return nil
		},
	}
	showCmd.Flags().BoolVar(&listIDs, "ids", false, "List every processed message id")
	return showCmd
}
