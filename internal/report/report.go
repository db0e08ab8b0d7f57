// Package report renders a commit ledger for humans (a lipgloss table) and
// for spreadsheets (CSV).
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/steveyegge/backport/internal/types"
	"github.com/steveyegge/backport/internal/ui"
)

// Format selects the output of Write.
type Format string

// Output formats
const (
	FormatTable Format = "table"
	FormatCSV   Format = "csv"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("unknown report format %q (want table or csv)", s)
}

// Options control which commits are reported and how.
type Options struct {
	States       []types.CommitState // empty reports every state
	SummaryWidth int                 // table only; 0 keeps summaries whole
}

// Write renders commits in format f.
func Write(w io.Writer, f Format, commits []*types.Commit, opts Options) error {
	commits = Filter(commits, opts.States)
	switch f {
	case FormatCSV:
		return WriteCSV(w, commits)
	default:
		return WriteTable(w, commits, opts.SummaryWidth)
	}
}

// Filter keeps the commits in one of states. No states keeps everything.
func Filter(commits []*types.Commit, states []types.CommitState) []*types.Commit {
	if len(states) == 0 {
		return commits
	}
	var out []*types.Commit
	for _, c := range commits {
		if slices.Contains(states, c.State) {
			out = append(out, c)
		}
	}
	return out
}

// Counts tallies commits per state.
func Counts(commits []*types.Commit) map[types.CommitState]int {
	counts := make(map[types.CommitState]int)
	for _, c := range commits {
		counts[c.State]++
	}
	return counts
}

var columns = []string{"Commit", "State", "Reason", "Release", "Upstream", "Downstream", "Assignee", "Pending", "Summary"}

const stateColumn = 1

func shortID(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	return id
}

func pending(c *types.Commit) int {
	n := 0
	for _, t := range c.Tasks {
		if t.State == types.TaskUnconfirmed {
			n++
		}
	}
	return n
}

func row(c *types.Commit) []string {
	return []string{
		shortID(c.UpstreamCommit),
		string(c.State),
		string(c.Reason),
		c.Release,
		c.UpstreamIssue,
		strings.Join(c.DownstreamIssues, " "),
		c.Assignee,
		strconv.Itoa(pending(c)),
		c.Summary,
	}
}

// WriteTable renders commits as a bordered table followed by per-state
// totals.
func WriteTable(w io.Writer, commits []*types.Commit, summaryWidth int) error {
	rows := make([][]string, 0, len(commits))
	for _, c := range commits {
		r := row(c)
		r[len(r)-1] = ui.Truncate(r[len(r)-1], summaryWidth)
		rows = append(rows, r)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(ui.MutedStyle).
		Headers(columns...).
		Rows(rows...).
		StyleFunc(func(r, col int) lipgloss.Style {
			cell := lipgloss.NewStyle().Padding(0, 1)
			switch {
			case r == table.HeaderRow:
				return ui.HeaderStyle.Padding(0, 1)
			case col == stateColumn && r < len(commits):
				return ui.StateStyle(commits[r].State).Padding(0, 1)
			}
			return cell
		})

	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, totals(commits))
	return err
}

func totals(commits []*types.Commit) string {
	counts := Counts(commits)
	parts := []string{fmt.Sprintf("%d commits", len(commits))}
	for _, s := range types.CommitStates() {
		if n := counts[s]; n > 0 {
			parts = append(parts, ui.StateStyle(s).Render(fmt.Sprintf("%d %s", n, s)))
		}
	}
	return strings.Join(parts, ui.RenderMuted(" · "))
}

// WriteCSV writes a header line and one record per commit. Upstream ids are
// written in full.
func WriteCSV(w io.Writer, commits []*types.Commit) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, c := range commits {
		r := row(c)
		r[0] = c.UpstreamCommit
		if err := cw.Write(r); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
