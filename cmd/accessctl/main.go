// Command accessctl runs the FAREDEAL access-control service and offers
// offline administration against the same backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/faredeal/accessctl/internal/config"
	"github.com/faredeal/accessctl/internal/logging"
)

// cli carries state resolved once per invocation.
type cli struct {
	cfg    config.Config
	logger *zap.Logger
	actor  string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "accessctl",
		Short:         "Employee access control for FAREDEAL",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.cfg = config.FromEnv()
			logger, err := logging.New(c.cfg.Env, c.cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.actor, "actor", os.Getenv("USER"), "identity recorded in the audit log for changes")

	root.AddCommand(
		newServeCmd(c),
		newSettingsCmd(c),
		newToggleGlobalCmd(c),
		newSetCmd(c),
		newBulkCmd(c),
		newStatusCmd(c),
		newStatsCmd(c),
		newAuditCmd(c),
		newExportCmd(c),
		newImportCmd(c),
		newResetCmd(c),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "accessctl:", err)
		os.Exit(1)
	}
}
