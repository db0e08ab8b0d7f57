package correlate

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/backport/internal/git"
	"github.com/steveyegge/backport/internal/release"
)

func sha(n int) string {
	return fmt.Sprintf("%040x", n)
}

func commit(id, message string) git.Commit {
	short := message
	for i, r := range message {
		if r == '\n' {
			short = message[:i]
			break
		}
	}
	return git.Commit{ID: id, Parents: []string{"p"}, ShortMessage: short, FullMessage: message}
}

func revertOf(id, target, summary string) git.Commit {
	return commit(id, fmt.Sprintf("Revert \"%s\"\n\nThis reverts commit %s.", summary, target))
}

func pickOf(id, upstream, summary string) git.Commit {
	return commit(id, fmt.Sprintf("%s\n\n(cherry picked from commit %s)", summary, upstream))
}

func newCorrelator() *Correlator {
	return New(slog.New(slog.DiscardHandler))
}

func TestRevertChainSharedByMembers(t *testing.T) {
	upstream := []git.Commit{
		commit(sha(1), "ARTEMIS-1 Original"),
		revertOf(sha(2), sha(1), "ARTEMIS-1 Original"),
		revertOf(sha(3), sha(2), "Revert \"ARTEMIS-1 Original\""),
		commit(sha(4), "ARTEMIS-4 Unrelated"),
	}
	res, err := newCorrelator().Correlate(upstream, nil, release.MustParse("7.10.0.CR1"))
	if err != nil {
		t.Fatalf("Correlate() error = %v", err)
	}

	want := []string{sha(3), sha(2), sha(1)}
	chain := res.Chain(sha(1))
	if chain == nil {
		t.Fatal("no chain for original commit")
	}
	for _, id := range want {
		got := res.Chain(id)
		if got != chain {
			t.Errorf("Chain(%s) is a different object", id)
		}
		if diff := cmp.Diff(want, got.IDs()); diff != "" {
			t.Errorf("Chain(%s) mismatch (-want +got):\n%s", id, diff)
		}
	}
	if chain.Terminal() != sha(1) || !chain.NetEffect() {
		t.Errorf("Terminal() = %s, NetEffect() = %v", chain.Terminal(), chain.NetEffect())
	}
	if res.Chain(sha(4)) != nil {
		t.Error("unrelated commit has a chain")
	}
	if len(res.Chains()) != 1 {
		t.Errorf("Chains() = %d chains", len(res.Chains()))
	}
}

func TestRevertChainKeepsUnseenTarget(t *testing.T) {
	upstream := []git.Commit{revertOf(sha(2), sha(99), "old change")}
	res, err := newCorrelator().Correlate(upstream, nil, release.MustParse("7.10.0.CR1"))
	if err != nil {
		t.Fatal(err)
	}
	chain := res.Chain(sha(99))
	if chain == nil || chain.Terminal() != sha(99) || chain.Len() != 2 {
		t.Fatalf("Chain(target) = %v", chain)
	}
	if res.IsUpstreamOnly(sha(99)) {
		t.Error("target reported as upstream-only")
	}
}

func TestRevertChainsMergeOnSharedTarget(t *testing.T) {
	pairs := []revertPair{
		{commit: sha(2), reverted: sha(1)},
		{commit: sha(3), reverted: sha(1)},
	}
	chains, err := buildChains(pairs)
	if err != nil {
		t.Fatal(err)
	}
	if chains[sha(1)] != chains[sha(2)] || chains[sha(2)] != chains[sha(3)] {
		t.Error("members of merged chain map to different objects")
	}
	if diff := cmp.Diff([]string{sha(3), sha(2), sha(1)}, chains[sha(1)].IDs()); diff != "" {
		t.Errorf("merged chain mismatch (-want +got):\n%s", diff)
	}
}

func TestRevertCycle(t *testing.T) {
	tests := []struct {
		name  string
		pairs []revertPair
	}{
		{"two-cycle", []revertPair{{sha(1), sha(2)}, {sha(2), sha(1)}}},
		{"self", []revertPair{{sha(1), sha(1)}}},
		{"cycle with tail", []revertPair{{sha(9), sha(1)}, {sha(1), sha(2)}, {sha(2), sha(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := buildChains(tt.pairs); !errors.Is(err, ErrRevertCycle) {
				t.Errorf("buildChains() error = %v, want ErrRevertCycle", err)
			}
		})
	}
}

func TestMergesAreSkipped(t *testing.T) {
	merge := commit(sha(5), "Merge pull request #1")
	merge.Parents = []string{"a", "b"}
	res, err := newCorrelator().Correlate([]git.Commit{merge}, nil, release.MustParse("7.10.0.CR1"))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsUpstreamOnly(sha(5)) {
		t.Error("merge commit recorded as upstream-only")
	}
}

func TestReleaseCursor(t *testing.T) {
	upstream := []git.Commit{
		commit(sha(1), "ARTEMIS-1 One"),
		commit(sha(2), "ARTEMIS-2 Two"),
		commit(sha(3), "ARTEMIS-3 Three"),
	}
	downstream := []git.Commit{
		pickOf(sha(101), sha(1), "ARTEMIS-1 One"),
		commit(sha(102), "[maven-release-plugin] prepare release amq-broker-7.9.0.CR2"),
		pickOf(sha(103), sha(2), "ARTEMIS-2 Two"),
		commit(sha(104), "Prepare release 7.10.0.CR1"),
		pickOf(sha(105), sha(3), "ARTEMIS-3 Three"),
	}
	res, err := newCorrelator().Correlate(upstream, downstream, release.MustParse("7.10.0.CR2"))
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]string{
		sha(1): "7.9.0.CR2",
		sha(2): "7.10.0.CR1",
		sha(3): "7.10.0.CR2",
	}
	for id, rel := range want {
		e, ok := res.Lookup(id)
		if !ok {
			t.Errorf("Lookup(%s) not found", id)
			continue
		}
		if e.Release.String() != rel {
			t.Errorf("Lookup(%s).Release = %s, want %s", id, e.Release, rel)
		}
	}
	if e, _ := res.Lookup(sha(2)); e.Downstream.ID != sha(103) {
		t.Errorf("Lookup(2).Downstream = %s", e.Downstream.ID)
	}
	if diff := cmp.Diff([]string{sha(1), sha(2), sha(3)}, res.Correlated()); diff != "" {
		t.Errorf("Correlated() mismatch (-want +got):\n%s", diff)
	}
}

func TestSummaryFallback(t *testing.T) {
	upstream := []git.Commit{
		commit(sha(1), "ARTEMIS-1 Rebased fix"),
		commit(sha(2), "ARTEMIS-2 Manual port"),
	}
	downstream := []git.Commit{
		pickOf(sha(101), sha(77), "ARTEMIS-1 Rebased fix"),
		commit(sha(102), "ARTEMIS-2 Manual port"),
		commit(sha(103), "Downstream only change"),
	}
	res, err := newCorrelator().Correlate(upstream, downstream, release.MustParse("7.10.0.CR1"))
	if err != nil {
		t.Fatal(err)
	}
	if e, ok := res.Lookup(sha(1)); !ok || e.Downstream.ID != sha(101) {
		t.Errorf("trailer with unknown id did not fall back to summary: %v %v", e, ok)
	}
	if e, ok := res.Lookup(sha(2)); !ok || e.Downstream.ID != sha(102) {
		t.Errorf("commit without trailer not matched by summary: %v %v", e, ok)
	}
	if len(res.Correlated()) != 2 {
		t.Errorf("Correlated() = %v", res.Correlated())
	}
}

func TestNewestDownstreamWins(t *testing.T) {
	upstream := []git.Commit{commit(sha(1), "ARTEMIS-1 Fix")}
	downstream := []git.Commit{
		pickOf(sha(101), sha(1), "ARTEMIS-1 Fix"),
		pickOf(sha(102), sha(1), "ARTEMIS-1 Fix"),
	}
	res, err := newCorrelator().Correlate(upstream, downstream, release.MustParse("7.10.0.CR1"))
	if err != nil {
		t.Fatal(err)
	}
	if e, _ := res.Lookup(sha(1)); e.Downstream.ID != sha(102) {
		t.Errorf("Lookup().Downstream = %s, want newest", e.Downstream.ID)
	}
}

func TestDownstreamRevertConsumesTarget(t *testing.T) {
	upstream := []git.Commit{commit(sha(1), "ARTEMIS-1 Fix")}
	downstream := []git.Commit{
		pickOf(sha(101), sha(1), "ARTEMIS-1 Fix"),
		revertOf(sha(102), sha(101), "ARTEMIS-1 Fix"),
	}
	res, err := newCorrelator().Correlate(upstream, downstream, release.MustParse("7.10.0.CR1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Lookup(sha(1)); ok {
		t.Error("reverted downstream backport still correlated")
	}
}

func TestBackportedUpstreamRevertDoesNotConsume(t *testing.T) {
	upstream := []git.Commit{
		commit(sha(1), "ARTEMIS-1 Fix"),
		revertOf(sha(2), sha(1), "ARTEMIS-1 Fix"),
	}
	downstream := []git.Commit{
		pickOf(sha(101), sha(1), "ARTEMIS-1 Fix"),
		commit(sha(102), fmt.Sprintf("Revert \"ARTEMIS-1 Fix\"\n\nThis reverts commit %s.\n\n(cherry picked from commit %s)", sha(101), sha(2))),
	}
	res, err := newCorrelator().Correlate(upstream, downstream, release.MustParse("7.10.0.CR1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Lookup(sha(1)); !ok {
		t.Error("original backport lost its correlation")
	}
	if e, ok := res.Lookup(sha(2)); !ok || e.Downstream.ID != sha(102) {
		t.Error("backported revert not correlated")
	}
}
