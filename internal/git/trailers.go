package git

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	cherryPickPattern = regexp.MustCompile(`\(cherry picked from commit ([0-9a-f]{40})\)`)
	revertPattern     = regexp.MustCompile(`This reverts commit ([0-9a-f]{40})\.`)
	downstreamPattern = regexp.MustCompile(`(?m)^downstream:[ \t]*(.+?)[ \t]*$`)

	releasePattern       = regexp.MustCompile(`^Prepare release (\S+)$`)
	legacyReleasePattern = regexp.MustCompile(`^\[maven-release-plugin\] prepare release \S*?([0-9]+\.[0-9]+\.[0-9]+\.\S+)$`)
)

// CherryPickedFrom returns the upstream id recorded by a
// "(cherry picked from commit <sha>)" trailer.
func CherryPickedFrom(message string) (string, bool) {
	m := cherryPickPattern.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Reverts returns the id named by a "This reverts commit <sha>." trailer.
func Reverts(message string) (string, bool) {
	m := revertPattern.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// DownstreamKeys returns the issue keys listed on "downstream:" lines,
// split on commas and whitespace.
func DownstreamKeys(message string) []string {
	var keys []string
	for _, m := range downstreamPattern.FindAllStringSubmatch(message, -1) {
		keys = append(keys, strings.FieldsFunc(m[1], func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})...)
	}
	return keys
}

// ReleaseMarker returns the release prepared by a release commit, given its
// short message. Both "Prepare release <version>" and the maven release
// plugin form are recognized.
func ReleaseMarker(shortMessage string) (string, bool) {
	if m := releasePattern.FindStringSubmatch(shortMessage); m != nil {
		return m[1], true
	}
	if m := legacyReleasePattern.FindStringSubmatch(shortMessage); m != nil {
		return m[1], true
	}
	return "", false
}

// BackportMessage builds the message of a cherry-picked commit: the upstream
// message followed by the cherry-pick trailer and, when keys are given, a
// downstream trailer line.
func BackportMessage(upstreamMessage, upstreamID string, downstreamKeys []string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(upstreamMessage, "\n"))
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "(cherry picked from commit %s)\n", upstreamID)
	if len(downstreamKeys) > 0 {
		fmt.Fprintf(&sb, "\ndownstream: %s\n", strings.Join(downstreamKeys, ", "))
	}
	return sb.String()
}
