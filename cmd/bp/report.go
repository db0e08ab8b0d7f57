package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/backport/internal/config"
	"github.com/steveyegge/backport/internal/ledger"
	"github.com/steveyegge/backport/internal/report"
	"github.com/steveyegge/backport/internal/types"
	"github.com/steveyegge/backport/internal/ui"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the commit ledger as a table or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.LoadPaths()
		if err != nil {
			return err
		}
		formatName, _ := cmd.Flags().GetString("format")
		format, err := report.ParseFormat(formatName)
		if err != nil {
			return err
		}
		stateNames, _ := cmd.Flags().GetStringSlice("state")
		states, err := parseStates(stateNames)
		if err != nil {
			return err
		}
		width, _ := cmd.Flags().GetInt("width")

		commits, err := ledger.Load(s.Ledger.Commits)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := report.Write(&buf, format, commits, report.Options{
			States:       states,
			SummaryWidth: width,
		}); err != nil {
			return err
		}
		noPager, _ := cmd.Flags().GetBool("no-pager")
		return ui.ToPager(cmd.OutOrStdout(), buf.String(), ui.PagerOptions{NoPager: noPager || format == report.FormatCSV})
	},
}

func init() {
	reportCmd.Flags().String("format", "table", "Output format (table, csv)")
	reportCmd.Flags().StringSlice("state", nil, "Only report commits in these states (e.g. TODO,FAILED)")
	reportCmd.Flags().Int("width", 60, "Truncate summaries in table output (0 = no limit)")
	reportCmd.Flags().Bool("no-pager", false, "Disable pager output")
}

func parseStates(names []string) ([]types.CommitState, error) {
	var states []types.CommitState
	for _, name := range names {
		var state types.CommitState
		if err := state.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(name)))); err != nil {
			return nil, fmt.Errorf("--state: %w", err)
		}
		states = append(states, state)
	}
	return states, nil
}
