package main

import (
	"fmt"
	"os"

	"p402-router/config"
	"p402-router/internal/store"
	"p402-router/internal/util"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "routerctl",
		Short:   "Operational commands for the p402 router",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			return util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			util.SyncLogger()
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(replaySweepCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*store.Store, error) {
	cfg := config.Load()
	db, err := store.NewStore(cfg.Database.URL, store.PoolOptions{MaxOpenConns: 2})
	if err != nil {
		return nil, err
	}
	return db, nil
}
