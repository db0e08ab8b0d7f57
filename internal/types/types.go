// Package types defines the core data structures of the backport tool:
// per-commit reconciliation records, the tasks they propose and the
// issue-tracker issues they are reconciled against.
package types

import (
	"fmt"
	"slices"
	"strings"
)

// CommitState is the classification of an upstream commit for one run.
type CommitState string

// Commit states
const (
	StateTodo       CommitState = "TODO"       // awaiting confirmation of a proposed cherry-pick
	StateDone       CommitState = "DONE"       // backported (or nothing to do) and consistent
	StateIncomplete CommitState = "INCOMPLETE" // backported but tracking issues need work
	StateBlocked    CommitState = "BLOCKED"    // needs a downstream issue before it can proceed
	StateSkipped    CommitState = "SKIPPED"    // deliberately not backported
	StateFailed     CommitState = "FAILED"     // could not be processed
)

// CommitStates lists every commit state in report order.
func CommitStates() []CommitState {
	return []CommitState{StateTodo, StateDone, StateIncomplete, StateBlocked, StateSkipped, StateFailed}
}

// IsValid checks if the commit state value is valid.
func (s CommitState) IsValid() bool {
	switch s {
	case StateTodo, StateDone, StateIncomplete, StateBlocked, StateSkipped, StateFailed:
		return true
	}
	return false
}

// UnmarshalText rejects unknown states.
func (s *CommitState) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, s, "commit state")
}

// Reason explains a non-DONE classification.
type Reason string

// Reason codes
const (
	ReasonNone                         Reason = ""
	ReasonNoUpstreamIssue              Reason = "NO_UPSTREAM_ISSUE"
	ReasonMultipleUpstreamIssues       Reason = "MULTIPLE_UPSTREAM_ISSUES"
	ReasonUpstreamIssueNotFound        Reason = "UPSTREAM_ISSUE_NOT_FOUND"
	ReasonNoBackportNeeded             Reason = "DOWNSTREAM_ISSUE_NO-BACKPORT-NEEDED"
	ReasonNoIssuesWithRequiredRelease  Reason = "NO_DOWNSTREAM_ISSUES_WITH_REQUIRED_TARGET_RELEASE"
	ReasonDownstreamIssueNotSufficient Reason = "DOWNSTREAM_ISSUE_NOT_SUFFICIENT"
	ReasonNoDownstreamIssues           Reason = "NO_DOWNSTREAM_ISSUES"
	ReasonUpstreamIssueNotSufficient   Reason = "UPSTREAM_ISSUE_NOT_SUFFICIENT"
	ReasonUpstreamCommitReverted       Reason = "UPSTREAM_COMMIT_REVERTED"
	ReasonCherryPickFailed             Reason = "CHERRY_PICK_FAILED"
	ReasonDownstreamIssueIncomplete    Reason = "DOWNSTREAM_ISSUE_INCOMPLETE"
)

// IsValid checks if the reason value is valid. The empty reason is valid.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonNone, ReasonNoUpstreamIssue, ReasonMultipleUpstreamIssues, ReasonUpstreamIssueNotFound,
		ReasonNoBackportNeeded, ReasonNoIssuesWithRequiredRelease, ReasonDownstreamIssueNotSufficient,
		ReasonNoDownstreamIssues, ReasonUpstreamIssueNotSufficient, ReasonUpstreamCommitReverted,
		ReasonCherryPickFailed, ReasonDownstreamIssueIncomplete:
		return true
	}
	return false
}

// UnmarshalText rejects unknown reasons.
func (r *Reason) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, r, "reason")
}

// TaskType identifies the kind of mutation a task performs.
type TaskType string

// Task types
const (
	TaskCherryPick           TaskType = "CHERRY_PICK_UPSTREAM_COMMIT"
	TaskAddLabel             TaskType = "ADD_LABEL_TO_DOWNSTREAM_ISSUE"
	TaskAddUpstreamLink      TaskType = "ADD_UPSTREAM_LINK_TO_DOWNSTREAM_ISSUE"
	TaskSetTargetRelease     TaskType = "SET_DOWNSTREAM_ISSUE_TARGET_RELEASE"
	TaskTransition           TaskType = "TRANSITION_DOWNSTREAM_ISSUE"
	TaskCloneUpstreamIssue   TaskType = "CLONE_UPSTREAM_ISSUE"
	TaskCloneDownstreamIssue TaskType = "CLONE_DOWNSTREAM_ISSUE"
)

// IsValid checks if the task type value is valid.
func (t TaskType) IsValid() bool {
	switch t {
	case TaskCherryPick, TaskAddLabel, TaskAddUpstreamLink, TaskSetTargetRelease,
		TaskTransition, TaskCloneUpstreamIssue, TaskCloneDownstreamIssue:
		return true
	}
	return false
}

// UnmarshalText rejects unknown task types.
func (t *TaskType) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, t, "task type")
}

// TaskState is the execution state of a task.
type TaskState string

// Task states
const (
	TaskNew         TaskState = "NEW"
	TaskExecuted    TaskState = "EXECUTED"
	TaskFailed      TaskState = "FAILED"
	TaskUnconfirmed TaskState = "UNCONFIRMED"
)

// IsValid checks if the task state value is valid.
func (s TaskState) IsValid() bool {
	switch s {
	case TaskNew, TaskExecuted, TaskFailed, TaskUnconfirmed:
		return true
	}
	return false
}

// UnmarshalText rejects unknown task states.
func (s *TaskState) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, s, "task state")
}

// TaskIdentity is the (type, key, value) triple that identifies the intent of
// a task. Tasks with equal identities are interchangeable for confirmation.
type TaskIdentity struct {
	Type  TaskType `json:"type" yaml:"type"`
	Key   string   `json:"key" yaml:"key"`
	Value string   `json:"value,omitempty" yaml:"value,omitempty"`
}

func (id TaskIdentity) String() string {
	if id.Value == "" {
		return fmt.Sprintf("%s %s", id.Type, id.Key)
	}
	return fmt.Sprintf("%s %s=%s", id.Type, id.Key, id.Value)
}

// CommitTask is a mutation proposed while reconciling a commit.
type CommitTask struct {
	Type   TaskType  `json:"type"`
	Key    string    `json:"key"`
	Value  string    `json:"value,omitempty"`
	State  TaskState `json:"state"`
	Result string    `json:"result,omitempty"`
}

// NewTask returns a task in the NEW state.
func NewTask(typ TaskType, key, value string) *CommitTask {
	return &CommitTask{Type: typ, Key: key, Value: value, State: TaskNew}
}

// Identity returns the task's (type, key, value) triple.
func (t *CommitTask) Identity() TaskIdentity {
	return TaskIdentity{Type: t.Type, Key: t.Key, Value: t.Value}
}

// Executed reports whether the task ran successfully.
func (t *CommitTask) Executed() bool {
	return t.State == TaskExecuted
}

// Commit is the reconciliation record of one upstream commit.
type Commit struct {
	UpstreamCommit   string        `json:"upstream_commit"`
	DownstreamCommit string        `json:"downstream_commit,omitempty"`
	State            CommitState   `json:"state"`
	Reason           Reason        `json:"reason,omitempty"`
	Assignee         string        `json:"assignee,omitempty"`
	Release          string        `json:"release"`
	UpstreamIssue    string        `json:"upstream_issue,omitempty"`
	DownstreamIssues []string      `json:"downstream_issues,omitempty"`
	Author           string        `json:"author,omitempty"`
	Summary          string        `json:"summary"`
	Tests            []string      `json:"tests,omitempty"`
	Tasks            []*CommitTask `json:"tasks,omitempty"`
}

// AddDownstreamIssue appends key unless it is already present.
func (c *Commit) AddDownstreamIssue(key string) {
	if key == "" || slices.Contains(c.DownstreamIssues, key) {
		return
	}
	c.DownstreamIssues = append(c.DownstreamIssues, key)
}

// Classify sets the final state and reason.
func (c *Commit) Classify(state CommitState, reason Reason) {
	c.State = state
	c.Reason = reason
}

// FutureGA is the target release sentinel meaning "no specific release yet".
const FutureGA = "Future GA"

// IssueType is the normalized type of a tracker issue.
type IssueType string

// Issue types
const (
	IssueBug     IssueType = "Bug"
	IssueTask    IssueType = "Task"
	IssueStory   IssueType = "Story"
	IssueFeature IssueType = "Feature"
	IssueOther   IssueType = "Other"
)

// ParseIssueType normalizes a tracker type name; unknown names map to IssueOther.
func ParseIssueType(name string) IssueType {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bug", "defect":
		return IssueBug
	case "task", "sub-task", "subtask":
		return IssueTask
	case "story":
		return IssueStory
	case "feature", "enhancement", "new feature", "improvement":
		return IssueFeature
	}
	return IssueOther
}

// CustomerPriority is an ordered customer priority; higher is more urgent.
type CustomerPriority int

// Customer priorities
const (
	CustomerPriorityNone CustomerPriority = iota
	CustomerPriorityLow
	CustomerPriorityNormal
	CustomerPriorityHigh
	CustomerPriorityUrgent
)

var customerPriorityNames = []string{"None", "Low", "Normal", "High", "Urgent"}

func (p CustomerPriority) String() string {
	if p < 0 || int(p) >= len(customerPriorityNames) {
		return fmt.Sprintf("CustomerPriority(%d)", int(p))
	}
	return customerPriorityNames[p]
}

// ParseCustomerPriority parses a priority name case-insensitively.
// The empty string parses as CustomerPriorityNone.
func ParseCustomerPriority(name string) (CustomerPriority, error) {
	i, err := parseOrdinal(name, customerPriorityNames)
	if err != nil {
		return CustomerPriorityNone, fmt.Errorf("customer priority: %w", err)
	}
	return CustomerPriority(i), nil
}

// SecurityImpact is an ordered security impact rating.
type SecurityImpact int

// Security impacts
const (
	SecurityImpactNone SecurityImpact = iota
	SecurityImpactLow
	SecurityImpactModerate
	SecurityImpactImportant
	SecurityImpactCritical
)

var securityImpactNames = []string{"None", "Low", "Moderate", "Important", "Critical"}

func (s SecurityImpact) String() string {
	if s < 0 || int(s) >= len(securityImpactNames) {
		return fmt.Sprintf("SecurityImpact(%d)", int(s))
	}
	return securityImpactNames[s]
}

// ParseSecurityImpact parses an impact name case-insensitively.
// The empty string parses as SecurityImpactNone.
func ParseSecurityImpact(name string) (SecurityImpact, error) {
	i, err := parseOrdinal(name, securityImpactNames)
	if err != nil {
		return SecurityImpactNone, fmt.Errorf("security impact: %w", err)
	}
	return SecurityImpact(i), nil
}

// Issue is an issue read from an issue tracker.
type Issue struct {
	Key              string           `json:"key"`
	Type             IssueType        `json:"type"`
	State            string           `json:"state"`
	Summary          string           `json:"summary,omitempty"`
	Description      string           `json:"description,omitempty"`
	Labels           []string         `json:"labels,omitempty"`
	Links            []string         `json:"links,omitempty"`
	UpstreamLinks    []string         `json:"upstream_links,omitempty"`
	TargetRelease    string           `json:"target_release,omitempty"`
	Customer         bool             `json:"customer,omitempty"`
	CustomerPriority CustomerPriority `json:"customer_priority,omitempty"`
	Security         bool             `json:"security,omitempty"`
	SecurityImpact   SecurityImpact   `json:"security_impact,omitempty"`
	PatchLink        bool             `json:"patch_link,omitempty"`
	Assignee         string           `json:"assignee,omitempty"`
	Reporter         string           `json:"reporter,omitempty"`
	Creator          string           `json:"creator,omitempty"`
}

// HasLabel reports whether the issue carries label.
func (i *Issue) HasLabel(label string) bool {
	return slices.Contains(i.Labels, label)
}

// HasUpstreamLink reports whether the issue links back to the upstream issue key.
// Links recorded as URLs match when they end with the key.
func (i *Issue) HasUpstreamLink(key string) bool {
	for _, link := range i.UpstreamLinks {
		if link == key || strings.HasSuffix(link, "/"+key) {
			return true
		}
	}
	return false
}

// IsBug reports whether the issue is bug-typed.
func (i *Issue) IsBug() bool {
	return i.Type == IssueBug
}

func parseOrdinal(name string, names []string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, nil
	}
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown value %q", name)
}

type validator interface {
	IsValid() bool
}

func unmarshalEnum[T ~string](text []byte, dst *T, kind string) error {
	v := T(text)
	if vv, ok := any(v).(validator); ok && !vv.IsValid() {
		return fmt.Errorf("invalid %s %q", kind, string(text))
	}
	*dst = v
	return nil
}
