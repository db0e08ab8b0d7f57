package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/backport/internal/config"
	"github.com/steveyegge/backport/internal/engine"
	"github.com/steveyegge/backport/internal/git"
	"github.com/steveyegge/backport/internal/ledger"
	"github.com/steveyegge/backport/internal/report"
	"github.com/steveyegge/backport/internal/tasks"
	"github.com/steveyegge/backport/internal/types"
	"github.com/steveyegge/backport/internal/ui"
)

var fetchFlag bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Classify upstream commits and execute confirmed tasks",
	Long: `Reads the upstream and downstream history, correlates them and classifies
every upstream commit against the configured release. Tasks already present in
the confirmed-task file are executed; new tasks are recorded for review with
'bp tasks list'. The commit ledger is updated even when the run fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := config.Load()
		if err != nil {
			return err
		}
		return runBackport(cmd.Context(), cmd.OutOrStdout(), s)
	},
}

func init() {
	runCmd.Flags().BoolVar(&fetchFlag, "fetch", false, "Fetch the remotes of the compared refs first")
}

func runBackport(ctx context.Context, out io.Writer, s *config.Settings) error {
	applyLockTimeout(s)
	if s.DryRun {
		fmt.Fprintln(out, color.YellowString("DRY RUN - tracker updates and pushes are only logged"))
	}

	repo, err := openRepo(ctx, s)
	if err != nil {
		return err
	}
	if fetchFlag {
		if err := fetchRemotes(ctx, repo, s); err != nil {
			return err
		}
	}
	if err := prepareWorkBranch(ctx, repo, s); err != nil {
		return err
	}
	upstreamCommits, correlation, err := correlateHistory(ctx, repo, s)
	if err != nil {
		return err
	}

	upstream, err := openTracker(ctx, "upstream", s.Upstream, s)
	if err != nil {
		return err
	}
	downstream, err := openTracker(ctx, "downstream", s.Downstream, s)
	if err != nil {
		return err
	}

	approved, err := ledger.LoadConfirmed(s.Ledger.Confirmed)
	if err != nil {
		return err
	}
	taskLedger := tasks.NewLedger(approved, logger)

	validator, matcher, err := newValidator(repo.Dir, s)
	if err != nil {
		return err
	}

	eng := engine.New(engine.Deps{
		Repo:        repo,
		Upstream:    upstream,
		Downstream:  downstream,
		Correlation: correlation,
		Ledger:      taskLedger,
		Validator:   validator,
		Tests:       matcher,
		Logger:      logger,
	}, engineOptions(s))

	// The flush must survive cancellation of the run.
	flushCtx := context.WithoutCancel(ctx)
	commits, runErr := eng.Run(ctx, upstreamCommits, func(commits []*types.Commit) error {
		return ledger.Update(flushCtx, s.Ledger.Commits, commits)
	})
	printRunSummary(out, commits, taskLedger.Unconfirmed())
	return runErr
}

func engineOptions(s *config.Settings) engine.Options {
	opts := engine.Options{
		Release:                   s.ReleaseVersion,
		DefaultUser:               s.DefaultUser,
		ConfirmedUpstreamIssues:   s.Policy.ConfirmedUpstreamIssues,
		ExcludedUpstreamIssues:    s.Policy.ExcludedUpstreamIssues,
		ConfirmedDownstreamIssues: s.Policy.ConfirmedDownstreamIssues,
		ExcludedDownstreamIssues:  s.Policy.ExcludedDownstreamIssues,
		CustomerPriorityThreshold: s.CustomerPriorityThreshold,
		SecurityImpactThreshold:   s.SecurityImpactThreshold,
		CheckIncomplete:           s.CheckIncomplete,
		DryRun:                    s.DryRun,
		NoBackportNeededLabel:     s.Labels.NoBackportNeeded,
		TestedLabel:               s.Labels.Tested,
		NoTestingNeededLabel:      s.Labels.NoTestingNeeded,
		NoTrackingMarker:          s.Labels.NoTrackingMarker,
		ReadyState:                s.Downstream.ReadyState,
		CloneLinkType:             s.Downstream.CloneLinkType,
		UpstreamLinkBase:          s.Upstream.LinkBase,
		PushRemote:                s.Repo.PushRemote,
		PushRef:                   s.Repo.PushRef,
	}
	if s.Repo.CommitterName != "" {
		opts.Committer = git.Identity{Name: s.Repo.CommitterName, Email: s.Repo.CommitterEmail}
	}
	return opts
}

func printRunSummary(w io.Writer, commits []*types.Commit, pending []types.TaskIdentity) {
	counts := report.Counts(commits)
	fmt.Fprintf(w, "\n%s %d upstream commits\n", ui.RenderHeader("Processed"), len(commits))
	for _, state := range types.CommitStates() {
		if counts[state] == 0 {
			continue
		}
		fmt.Fprintf(w, "  %s: %d\n", ui.RenderState(state), counts[state])
	}
	if len(pending) > 0 {
		fmt.Fprintf(w, "\n%s %d tasks await confirmation (see 'bp tasks list')\n",
			color.YellowString("⚠"), len(pending))
	}
}
