// Package correlate matches upstream commits to the downstream commits that
// backported them, records the release each backport shipped in and resolves
// chains of reverts among upstream commits.
package correlate

import (
	"log/slog"
	"slices"

	"github.com/steveyegge/backport/internal/git"
	"github.com/steveyegge/backport/internal/release"
)

// Entry is the downstream backport of an upstream commit.
type Entry struct {
	Downstream git.Commit
	Release    release.Version
}

// Result is the outcome of one correlation pass. It is read-only.
type Result struct {
	entries  map[string]Entry
	chains   map[string]*RevertChain
	upstream map[string]git.Commit
	order    []string
}

// Lookup returns the downstream backport of the upstream commit id.
func (r *Result) Lookup(id string) (Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Chain returns the revert chain containing id, or nil.
func (r *Result) Chain(id string) *RevertChain {
	return r.chains[id]
}

// IsUpstreamOnly reports whether id is one of the upstream-only commits.
func (r *Result) IsUpstreamOnly(id string) bool {
	_, ok := r.upstream[id]
	return ok
}

// Correlated returns the correlated upstream ids in upstream order.
func (r *Result) Correlated() []string {
	var ids []string
	for _, id := range r.order {
		if _, ok := r.entries[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Chains returns each distinct revert chain once, ordered by first member
// in upstream order.
func (r *Result) Chains() []*RevertChain {
	var out []*RevertChain
	for _, id := range r.order {
		if c := r.chains[id]; c != nil && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// Correlator builds correlation results from commit logs.
type Correlator struct {
	Logger *slog.Logger
}

// New returns a Correlator logging to logger (slog.Default when nil).
func New(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{Logger: logger}
}

// Correlate scans upstream-only and downstream-only commits, both ordered
// oldest to newest. requested seeds the release cursor for downstream commits
// newer than the latest release marker.
func (c *Correlator) Correlate(upstream, downstream []git.Commit, requested release.Version) (*Result, error) {
	res := &Result{
		entries:  make(map[string]Entry),
		upstream: make(map[string]git.Commit, len(upstream)),
	}

	bySummary := make(map[string][]string)
	var pairs []revertPair
	for _, commit := range upstream {
		if commit.IsMerge() {
			continue
		}
		res.upstream[commit.ID] = commit
		res.order = append(res.order, commit.ID)
		bySummary[commit.ShortMessage] = append(bySummary[commit.ShortMessage], commit.ID)
		if reverted, ok := git.Reverts(commit.FullMessage); ok {
			pairs = append(pairs, revertPair{commit: commit.ID, reverted: reverted})
		}
	}

	chains, err := buildChains(pairs)
	if err != nil {
		return nil, err
	}
	res.chains = chains

	cursor := requested
	consumed := make(map[string]bool)
	for i := len(downstream) - 1; i >= 0; i-- {
		commit := downstream[i]
		if commit.IsMerge() {
			continue
		}
		if marker, ok := git.ReleaseMarker(commit.ShortMessage); ok {
			v, err := release.Parse(marker)
			if err != nil {
				c.Logger.Warn("ignoring unparsable release marker", "commit", commit.ShortID(), "release", marker)
				continue
			}
			cursor = v
			continue
		}
		if consumed[commit.ID] {
			c.Logger.Debug("skipping reverted downstream commit", "commit", commit.ShortID())
			continue
		}

		upstreamID, ok := git.CherryPickedFrom(commit.FullMessage)
		switch {
		case ok:
			if _, known := res.upstream[upstreamID]; !known {
				upstreamID, ok = c.matchSummary(res, bySummary, commit)
			}
		case hasRevert(commit):
			target, _ := git.Reverts(commit.FullMessage)
			consumed[target] = true
			continue
		default:
			upstreamID, ok = c.matchSummary(res, bySummary, commit)
		}
		if !ok {
			continue
		}
		if _, exists := res.entries[upstreamID]; exists {
			continue
		}
		res.entries[upstreamID] = Entry{Downstream: commit, Release: cursor}
	}
	return res, nil
}

func hasRevert(commit git.Commit) bool {
	_, ok := git.Reverts(commit.FullMessage)
	return ok
}

// matchSummary falls back to an identical short message, preferring the
// newest upstream commit not yet correlated.
func (c *Correlator) matchSummary(res *Result, bySummary map[string][]string, commit git.Commit) (string, bool) {
	candidates := bySummary[commit.ShortMessage]
	for i := len(candidates) - 1; i >= 0; i-- {
		if _, taken := res.entries[candidates[i]]; taken {
			continue
		}
		c.Logger.Info("low-confidence correlation by summary",
			"downstream", commit.ShortID(), "upstream", candidates[i], "summary", commit.ShortMessage)
		return candidates[i], true
	}
	return "", false
}
