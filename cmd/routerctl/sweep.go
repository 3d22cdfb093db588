package main

import (
	"fmt"

	"p402-router/config"
	"p402-router/internal/replay"

	"github.com/spf13/cobra"
)

func replaySweepCmd() *cobra.Command {
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "replay-sweep",
		Short: "Delete replay records older than the retention window",
		Long: `Delete consumed payment authorizations first seen before the retention
window. Safe to run while the router is serving traffic.

Examples:
  routerctl replay-sweep
  routerctl replay-sweep --retention-days 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if retentionDays <= 0 {
				retentionDays = config.Load().Router.ReplayRetentionDays
			}

			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			guard := replay.NewGuard(db.Replay(), retentionDays)
			deleted, err := guard.Cleanup(cmd.Context(), retentionDays)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d replay records older than %d days\n", deleted, retentionDays)
			return nil
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "retention window in days (defaults to REPLAY_RETENTION_DAYS)")
	return cmd
}
