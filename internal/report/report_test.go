package report

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/backport/internal/types"
)

func sample() []*types.Commit {
	return []*types.Commit{
		{
			UpstreamCommit:   "0123456789abcdef0123456789abcdef01234567",
			State:            types.StateTodo,
			Release:          "7.10.0.CR1",
			UpstreamIssue:    "ARTEMIS-1",
			DownstreamIssues: []string{"ENTMQBR-1", "ENTMQBR-2"},
			Assignee:         "dev@apache.org",
			Summary:          "ARTEMIS-1 Fix the broker restart, with a comma",
			Tasks: []*types.CommitTask{
				{Type: types.TaskCherryPick, Key: "0123", State: types.TaskUnconfirmed},
			},
		},
		{
			UpstreamCommit: "fedcba9876543210fedcba9876543210fedcba98",
			State:          types.StateSkipped,
			Reason:         types.ReasonNoUpstreamIssue,
			Release:        "7.10.0.CR1",
			Summary:        "NO-JIRA Fix flaky test",
		},
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"table", "CSV"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q) error = %v", s, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) succeeded")
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, sample(), Options{}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("reading CSV: %v", err)
	}
	want := [][]string{
		columns,
		{"0123456789abcdef0123456789abcdef01234567", "TODO", "", "7.10.0.CR1", "ARTEMIS-1", "ENTMQBR-1 ENTMQBR-2", "dev@apache.org", "1", "ARTEMIS-1 Fix the broker restart, with a comma"},
		{"fedcba9876543210fedcba9876543210fedcba98", "SKIPPED", "NO_UPSTREAM_ISSUE", "7.10.0.CR1", "", "", "", "0", "NO-JIRA Fix flaky test"},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("CSV mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteTableFiltersStates(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, FormatTable, sample(), Options{States: []types.CommitState{types.StateTodo}, SummaryWidth: 20})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Commit", "0123456789", "ARTEMIS-1", "ENTMQBR-1 ENTMQBR-2", "1 commits"} {
		if !strings.Contains(out, want) {
			t.Errorf("table lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "NO-JIRA") {
		t.Errorf("filtered commit rendered:\n%s", out)
	}
	if strings.Contains(out, "with a comma") {
		t.Errorf("summary not truncated:\n%s", out)
	}
}

func TestCounts(t *testing.T) {
	got := Counts(sample())
	want := map[types.CommitState]int{types.StateTodo: 1, types.StateSkipped: 1}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Counts() mismatch (-want +got):\n%s", diff)
	}
}
