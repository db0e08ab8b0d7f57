package engine

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/steveyegge/backport/internal/release"
	"github.com/steveyegge/backport/internal/types"
)

// releaseGroup is the set of downstream issues targeting one release.
// Issues without a usable target release form the Future GA group.
type releaseGroup struct {
	release  release.Version
	futureGA bool
	issues   []*types.Issue
}

// matches reports whether the group is the one a backport to effective
// should be tracked by.
func (g *releaseGroup) matches(effective release.Version) bool {
	return g.futureGA || g.release.CompareWithoutCandidate(effective) == 0
}

// parseTargetRelease reads an issue target release. Values such as
// "AMQ 7.10.0.GA" are accepted by parsing the last word. It reports false
// for empty, Future GA and unparsable values.
func parseTargetRelease(s string) (release.Version, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, types.FutureGA) {
		return release.Version{}, false
	}
	if v, err := release.Parse(s); err == nil {
		return v, true
	}
	if fields := strings.Fields(s); len(fields) > 1 {
		if v, err := release.Parse(fields[len(fields)-1]); err == nil {
			return v, true
		}
	}
	return release.Version{}, false
}

// groupByRelease groups issues by target release, ignoring the candidate.
// Concrete releases come first in ascending order; the Future GA group, if
// any, comes last.
func groupByRelease(issues []*types.Issue, logger *slog.Logger) []*releaseGroup {
	var groups []*releaseGroup
	var future *releaseGroup
	byRelease := make(map[string]*releaseGroup)

	for _, issue := range issues {
		v, ok := parseTargetRelease(issue.TargetRelease)
		if !ok {
			if issue.TargetRelease != "" && !strings.EqualFold(issue.TargetRelease, types.FutureGA) {
				logger.Warn("treating unparsable target release as Future GA", "issue", issue.Key, "release", issue.TargetRelease)
			}
			if future == nil {
				future = &releaseGroup{futureGA: true}
			}
			future.issues = append(future.issues, issue)
			continue
		}
		key := v.TargetRelease().String()
		g, ok := byRelease[key]
		if !ok {
			g = &releaseGroup{release: v.TargetRelease()}
			byRelease[key] = g
			groups = append(groups, g)
		}
		g.issues = append(g.issues, issue)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].release.Compare(groups[j].release) < 0
	})
	if future != nil {
		groups = append(groups, future)
	}
	return groups
}

// selectGroup picks the group targeting effective; otherwise the lowest
// concrete release; otherwise Future GA. It returns nil when there are no
// groups.
func selectGroup(groups []*releaseGroup, effective release.Version) *releaseGroup {
	for _, g := range groups {
		if !g.futureGA && g.matches(effective) {
			return g
		}
	}
	if len(groups) == 0 {
		return nil
	}
	return groups[0]
}

// containsWord reports whether word appears in s delimited by non-word
// characters.
func containsWord(s, word string) bool {
	if word == "" {
		return false
	}
	for i := 0; ; {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(word)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b == '-' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
