// Package cmd provides the CLI commands for ghgmatch.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ghgmatch/core/internal/logging"
	"github.com/ghgmatch/core/pkg/version"
)

var (
	cfgPath      string
	debugMode    bool
	loggingClean func()
	logger       *slog.Logger
)

// NewRootCmd creates the root command for ghgmatch.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ghgmatch",
		Short: "Match input rows against a GHG emission factor catalogue",
		Long: `ghgmatch runs the matching-and-decomposition pipeline: hybrid
retrieval (BM25 + semantic) against the ecoinvent-style catalogue, an LLM
decision oracle for match/ambiguous/decompose classification, and a
batch scheduler that drives rows to a calculated result or suspends
them for external resolution.`,
		Version:      version.Version,
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate("ghgmatch version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to ghgmatch.yaml (defaults built in if absent)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRunE = teardownLogging

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg.Level = "debug"
	}
	l, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	logger = l
	loggingClean = cleanup
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if loggingClean != nil {
		loggingClean()
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
