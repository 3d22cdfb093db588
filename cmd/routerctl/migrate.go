package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var showVersion bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			if !showVersion {
				if err := db.Migrate(ctx); err != nil {
					return err
				}
			}

			version, err := db.MigrationVersion(ctx)
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showVersion, "version-only", false, "print the schema version without migrating")
	return cmd
}
