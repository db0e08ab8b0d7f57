// Command bp reconciles upstream commits with a downstream branch and its
// issue tracker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/backport/internal/config"
	"github.com/steveyegge/backport/internal/debug"
	"github.com/steveyegge/backport/internal/telemetry"

	// Tracker integrations register themselves.
	_ "github.com/steveyegge/backport/internal/tracker/github"
	_ "github.com/steveyegge/backport/internal/tracker/jira"
	_ "github.com/steveyegge/backport/internal/tracker/memory"
)

var (
	configFile  string
	verboseFlag bool // Enable verbose/debug output
	quietFlag   bool // Suppress non-essential output
	dryRunFlag  bool
	releaseFlag string

	logger = slog.Default()
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: discover .backport/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().BoolVar(&dryRunFlag, "dry-run", false, "Log tracker mutations and pushes instead of performing them")
	rootCmd.PersistentFlags().StringVar(&releaseFlag, "release", "", "Candidate release of the run, e.g. 7.10.0.CR1 (overrides config)")

	rootCmd.AddCommand(runCmd, correlateCmd, tasksCmd, reportCmd, versionCmd)
}

var rootCmd = &cobra.Command{
	Use:           "bp",
	Short:         "bp - backport reconciliation",
	Long:          `Decides for every upstream commit whether it must be backported, cherry-picks it once confirmed and keeps the downstream issues consistent.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)
		logger = debug.NewLogger(cmd.ErrOrStderr())
		slog.SetDefault(logger)

		if err := config.InitializeFile(configFile); err != nil {
			return err
		}
		applyFlagOverrides(cmd)
		return telemetry.Init(cmd.Context(), "bp", Version)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			slog.Debug("telemetry shutdown", "error", err)
		}
	},
}

// applyFlagOverrides gives explicitly set flags priority over the config
// file and environment.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("dry-run") {
		config.Set("dry_run", dryRunFlag)
	}
	if flags.Changed("release") {
		config.Set("release", releaseFlag)
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}
