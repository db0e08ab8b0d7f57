package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/backport/internal/build"
	"github.com/steveyegge/backport/internal/config"
	"github.com/steveyegge/backport/internal/correlate"
	"github.com/steveyegge/backport/internal/git"
	"github.com/steveyegge/backport/internal/ledger"
	"github.com/steveyegge/backport/internal/telemetry"
	"github.com/steveyegge/backport/internal/tracker"
)

// openRepo opens the configured working tree, cloning repo.url into it when
// it is not a repository yet.
func openRepo(ctx context.Context, s *config.Settings) (*git.Repo, error) {
	repo, err := git.Open(ctx, s.Repo.Dir)
	if err == nil {
		return repo, nil
	}
	if s.Repo.URL == "" {
		return nil, fmt.Errorf("open repository %s: %w", s.Repo.Dir, err)
	}
	logger.Info("cloning repository", "url", s.Repo.URL, "dir", s.Repo.Dir)
	return git.Clone(ctx, s.Repo.URL, s.Repo.Dir)
}

// remoteOf returns the remote part of a remote-tracking ref such as
// "upstream/main", or "" for a local ref.
func remoteOf(ref string) string {
	remote, _, ok := strings.Cut(ref, "/")
	if !ok || strings.HasPrefix(ref, "refs/") {
		return ""
	}
	return remote
}

// fetchRemotes fetches the remotes of the compared refs once each.
func fetchRemotes(ctx context.Context, repo *git.Repo, s *config.Settings) error {
	seen := make(map[string]bool)
	for _, ref := range []string{s.Repo.UpstreamRef, s.Repo.DownstreamRef} {
		remote := remoteOf(ref)
		if remote == "" || seen[remote] {
			continue
		}
		seen[remote] = true
		if err := repo.Fetch(ctx, remote); err != nil {
			return err
		}
	}
	return nil
}

// prepareWorkBranch checks out the local branch that receives cherry-picks,
// creating it from the downstream ref on first use.
func prepareWorkBranch(ctx context.Context, repo *git.Repo, s *config.Settings) error {
	if s.Repo.PushRef == "" {
		return nil
	}
	exists, err := repo.BranchExists(ctx, s.Repo.PushRef)
	if err != nil {
		return err
	}
	if exists {
		return repo.Checkout(ctx, s.Repo.PushRef)
	}
	return repo.CreateBranch(ctx, s.Repo.PushRef, s.Repo.DownstreamRef)
}

// history returns the upstream-only and downstream-only commits, oldest first.
func history(ctx context.Context, repo *git.Repo, s *config.Settings) (upstream, downstream []git.Commit, err error) {
	if upstream, err = repo.Log(ctx, s.Repo.DownstreamRef+".."+s.Repo.UpstreamRef); err != nil {
		return nil, nil, fmt.Errorf("read upstream history: %w", err)
	}
	if downstream, err = repo.Log(ctx, s.Repo.UpstreamRef+".."+s.Repo.DownstreamRef); err != nil {
		return nil, nil, fmt.Errorf("read downstream history: %w", err)
	}
	logger.Debug("read history", "upstream", len(upstream), "downstream", len(downstream))
	return upstream, downstream, nil
}

func correlateHistory(ctx context.Context, repo *git.Repo, s *config.Settings) ([]git.Commit, *correlate.Result, error) {
	upstream, downstream, err := history(ctx, repo, s)
	if err != nil {
		return nil, nil, err
	}
	res, err := correlate.New(logger).Correlate(upstream, downstream, s.ReleaseVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("correlate: %w", err)
	}
	return upstream, res, nil
}

// openTracker creates the tracker configured for side ("upstream" or
// "downstream"), bulk-loads its query and applies the retry, dry-run and
// telemetry decorators.
func openTracker(ctx context.Context, side string, ts config.TrackerSettings, s *config.Settings) (tracker.IssueTracker, error) {
	plugin, err := tracker.NewTracker(ts.Tracker)
	if err != nil {
		return nil, fmt.Errorf("%s tracker: %w", side, err)
	}
	if err := plugin.Init(ctx, tracker.NewConfig(side, config.Viper())); err != nil {
		return nil, fmt.Errorf("init %s tracker %s: %w", side, ts.Tracker, err)
	}

	if ts.Query != "" {
		loader, ok := tracker.As[tracker.Loader](plugin)
		if !ok {
			return nil, fmt.Errorf("%s tracker %s cannot run query %q", side, ts.Tracker, ts.Query)
		}
		n, err := loader.Load(ctx, ts.Query)
		if err != nil {
			return nil, fmt.Errorf("load %s issues: %w", side, err)
		}
		logger.Info("loaded issues", "tracker", side, "count", n)
	}

	policy := tracker.DefaultRetryPolicy()
	if s.Retry.MaxRetries > 0 {
		policy.MaxRetries = s.Retry.MaxRetries
	}
	if s.Retry.InitialInterval > 0 {
		policy.InitialInterval = s.Retry.InitialInterval
	}
	var t tracker.IssueTracker = tracker.WithRetry(plugin, policy)
	if s.DryRun {
		t = tracker.NewDryRun(t, logger)
	}
	return telemetry.WrapTracker(t), nil
}

func newValidator(dir string, s *config.Settings) (*build.Validator, *build.TestMatcher, error) {
	matcher, err := build.NewTestMatcher(s.Build.TestPattern)
	if err != nil {
		return nil, nil, fmt.Errorf("build.test_pattern: %w", err)
	}
	v := &build.Validator{
		Dir:          dir,
		BuildCommand: s.Build.Command,
		TestCommand:  s.Build.TestCommand,
		Skip:         s.SkipBuildTest,
		Logger:       logger,
	}
	return v, matcher, nil
}

func applyLockTimeout(s *config.Settings) {
	if s.Ledger.LockTimeout > 0 {
		ledger.LockTimeout = s.Ledger.LockTimeout
	}
}
