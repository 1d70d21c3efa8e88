// Package main is chctl, the clearing house operator CLI.
//
// It runs the maintenance work River schedules on PostgreSQL (sweeps and
// chain verification), which SQLite deployments trigger from cron instead.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"datahub.migas.id/clearinghouse/internal/config"
	"datahub.migas.id/clearinghouse/internal/pkg/logger"
)

// loadConfig is swapped in tests.
var loadConfig = config.Load

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chctl: %v\n", err)
		os.Exit(1)
	}
}

// cli carries the config loaded by the root command's pre-run hook.
type cli struct {
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "chctl",
		Short:         "Operate the data clearing house",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			c.cfg = cfg
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	root.AddCommand(
		c.migrateCmd(),
		c.verifyCmd(),
		c.sweepCmd(),
		c.issueLicenseCmd(),
		c.tokenCmd(),
	)
	return root
}
