package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/backport/internal/config"
	"github.com/steveyegge/backport/internal/correlate"
	"github.com/steveyegge/backport/internal/git"
	"github.com/steveyegge/backport/internal/ui"
)

var correlateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Show how upstream commits map to downstream commits",
	Long: `Prints every upstream commit that already has a downstream counterpart,
with the release it shipped in, followed by the revert chains found upstream.
Nothing is modified.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.Load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		repo, err := openRepo(ctx, s)
		if err != nil {
			return err
		}
		upstream, res, err := correlateHistory(ctx, repo, s)
		if err != nil {
			return err
		}
		printCorrelation(cmd.OutOrStdout(), upstream, res)
		return nil
	},
}

func printCorrelation(w io.Writer, upstream []git.Commit, res *correlate.Result) {
	summaries := make(map[string]string, len(upstream))
	for _, c := range upstream {
		summaries[c.ID] = c.ShortMessage
	}

	correlated := res.Correlated()
	fmt.Fprintf(w, "%s %d of %d upstream commits\n", ui.RenderHeader("Correlated"), len(correlated), len(upstream))
	for _, id := range correlated {
		entry, _ := res.Lookup(id)
		fmt.Fprintf(w, "  %s → %s  %s  %s\n",
			shortID(id), entry.Downstream.ShortID(),
			ui.RenderMuted(entry.Release.String()), ui.Truncate(summaries[id], 60))
	}

	chains := res.Chains()
	if len(chains) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s %d\n", ui.RenderHeader("Revert chains"), len(chains))
	for _, chain := range chains {
		ids := make([]string, 0, chain.Len())
		for _, id := range chain.IDs() {
			ids = append(ids, shortID(id))
		}
		effect := "reverted"
		if chain.NetEffect() {
			effect = "in effect"
		}
		fmt.Fprintf(w, "  %s  %s\n", strings.Join(ids, " ← "), ui.RenderMuted(effect))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
