// Command reconledger serves and maintains an evidence-driven world model of
// a reconnaissance target.
package main

import (
	"fmt"
	"os"

	"github.com/Harshitk-cp/reconledger/internal/buildconfig"
	"github.com/Harshitk-cp/reconledger/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	snapshotPath string
	logLevel     string
}

func rootCmd() *cobra.Command {
	var gf globalFlags

	cmd := &cobra.Command{
		Use:   "reconledger",
		Short: "Evidence-driven world model for reconnaissance pipelines",
		Long: `reconledger keeps an append-only evidence graph, an epistemic ledger of
claims with subjective-logic opinions, and a target model derived from both.

It serves the model over HTTP, inspects saved snapshots and actively
re-verifies uncertain claims.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("snapshot") {
				gf.snapshotPath = config.SnapshotPath()
			}
			if !cmd.Flags().Changed("log-level") {
				gf.logLevel = config.LogLevel()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&gf.snapshotPath, "snapshot", "world-model.json", "Snapshot file (ignored when DATABASE_URL is set)")
	cmd.PersistentFlags().StringVar(&gf.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(&gf),
		inspectCmd(&gf),
		verifyCmd(&gf),
		pipelineCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), buildconfig.String())
			},
		},
	)
	return cmd
}

// newLogger builds a production logger at level; debug switches to the
// development encoder.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	if lvl.Level() == zap.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl
	return cfg.Build()
}
