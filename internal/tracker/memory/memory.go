// Package memory implements an in-process issue tracker backed by a
// tracker.Store. It serves offline runs from a JSON fixture and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/steveyegge/backport/internal/tracker"
	"github.com/steveyegge/backport/internal/types"
)

func init() {
	tracker.Register("memory", func() tracker.Plugin {
		return &Tracker{}
	})
}

// DefaultWorkflow is used when no workflow is configured.
var DefaultWorkflow = tracker.Workflow{"New", "To Do", "In Progress", "Review", "Ready for QE", "Closed"}

// Tracker is an in-memory IssueTracker.
type Tracker struct {
	Project  string
	Workflow tracker.Workflow
	Users    []string // when non-empty, UserExists only accepts these

	mu      sync.Mutex
	store   *tracker.Store
	parser  *tracker.KeyParser
	next    int
	calls   []string
	failing map[string]error
}

// New returns a tracker for project keys such as PROJECT-1 holding issues.
func New(project string, issues ...*types.Issue) *Tracker {
	t := &Tracker{Project: project, Workflow: DefaultWorkflow}
	t.setup()
	for _, i := range issues {
		t.store.Put(i)
	}
	return t
}

func (t *Tracker) setup() {
	if t.store == nil {
		t.store = tracker.NewStore()
	}
	if t.parser == nil {
		t.parser, _ = tracker.NewKeyParser(tracker.ProjectKeyPattern(t.Project))
	}
	if len(t.Workflow) == 0 {
		t.Workflow = DefaultWorkflow
	}
	if t.failing == nil {
		t.failing = make(map[string]error)
	}
}

func (t *Tracker) Name() string { return "memory" }

// Init reads project, key_pattern, workflow and an optional JSON fixture of
// issues from cfg.
func (t *Tracker) Init(_ context.Context, cfg *tracker.Config) error {
	project, err := cfg.GetRequired(tracker.CommonConfig.Project)
	if err != nil {
		return err
	}
	t.Project = project
	if wf := cfg.GetList(tracker.CommonConfig.Workflow); len(wf) > 0 {
		t.Workflow = wf
	}
	if pattern := cfg.Get(tracker.CommonConfig.KeyPattern); pattern != "" {
		if t.parser, err = tracker.NewKeyParser(pattern); err != nil {
			return err
		}
	}
	t.setup()

	if path := cfg.Get("fixture"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read fixture: %w", err)
		}
		var issues []*types.Issue
		if err := json.Unmarshal(data, &issues); err != nil {
			return fmt.Errorf("parse fixture %s: %w", path, err)
		}
		for _, i := range issues {
			t.store.Put(i)
		}
	}
	return nil
}

// Store returns the tracker's issue store.
func (t *Tracker) Store() *tracker.Store { return t.store }

// Fail makes every call of the named operation (e.g. "AddLabels") return err.
// A nil err clears the failure.
func (t *Tracker) Fail(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setup()
	if err == nil {
		delete(t.failing, op)
		return
	}
	t.failing[op] = err
}

// Calls returns a log of the mutating calls made, e.g. "AddLabels ENTMQBR-1 [tested]".
func (t *Tracker) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.calls)
}

func (t *Tracker) record(op string, args ...any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failing[op]; err != nil {
		return err
	}
	t.calls = append(t.calls, strings.TrimSpace(fmt.Sprintln(append([]any{op}, args...)...)))
	return nil
}

func (t *Tracker) GetIssue(_ context.Context, key string) (*types.Issue, error) {
	t.mu.Lock()
	err := t.failing["GetIssue"]
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	issue, _ := t.store.Lookup(key)
	return issue, nil
}

func (t *Tracker) ParseIssueKeys(text string) []string {
	return t.parser.Parse(text)
}

func (t *Tracker) LinkedIssues(_ context.Context, upstreamKey string) ([]string, error) {
	return t.store.LinkedTo(upstreamKey), nil
}

func (t *Tracker) update(key string, fn func(*types.Issue)) error {
	if !t.store.Update(key, fn) {
		return fmt.Errorf("issue %s not found", key)
	}
	return nil
}

func (t *Tracker) AddLabels(_ context.Context, key string, labels ...string) error {
	if err := t.record("AddLabels", key, labels); err != nil {
		return err
	}
	return t.update(key, func(i *types.Issue) {
		for _, l := range labels {
			if !slices.Contains(i.Labels, l) {
				i.Labels = append(i.Labels, l)
			}
		}
	})
}

func (t *Tracker) AddUpstreamLinks(_ context.Context, key string, links ...string) error {
	if err := t.record("AddUpstreamLinks", key, links); err != nil {
		return err
	}
	return t.update(key, func(i *types.Issue) {
		for _, l := range links {
			if !slices.Contains(i.UpstreamLinks, l) {
				i.UpstreamLinks = append(i.UpstreamLinks, l)
			}
		}
	})
}

func (t *Tracker) SetTargetRelease(_ context.Context, key, release string) error {
	if err := t.record("SetTargetRelease", key, release); err != nil {
		return err
	}
	return t.update(key, func(i *types.Issue) { i.TargetRelease = release })
}

func (t *Tracker) TransitionTo(_ context.Context, key, state string) error {
	if _, err := t.Workflow.Index(state); err != nil {
		return err
	}
	if err := t.record("TransitionTo", key, state); err != nil {
		return err
	}
	return t.update(key, func(i *types.Issue) { i.State = state })
}

func (t *Tracker) CreateIssue(_ context.Context, req tracker.CreateRequest) (*types.Issue, error) {
	if err := t.record("CreateIssue", req.Summary); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.next++
	key := fmt.Sprintf("%s-%d", t.Project, 1000+t.next)
	t.mu.Unlock()

	issue := &types.Issue{
		Key:           key,
		Type:          req.Type,
		State:         t.Workflow[0],
		Summary:       req.Summary,
		Description:   req.Description,
		Labels:        slices.Clone(req.Labels),
		UpstreamLinks: slices.Clone(req.UpstreamLinks),
		TargetRelease: req.TargetRelease,
		Assignee:      req.Assignee,
	}
	t.store.Put(issue)
	return issue, nil
}

func (t *Tracker) LinkIssues(_ context.Context, from, to, linkType string) error {
	if err := t.record("LinkIssues", from, to, linkType); err != nil {
		return err
	}
	if err := t.update(from, func(i *types.Issue) {
		if !slices.Contains(i.Links, to) {
			i.Links = append(i.Links, to)
		}
	}); err != nil {
		return err
	}
	return t.update(to, func(i *types.Issue) {
		if !slices.Contains(i.Links, from) {
			i.Links = append(i.Links, from)
		}
	})
}

func (t *Tracker) StateIndex(state string) (int, error) {
	return t.Workflow.Index(state)
}

func (t *Tracker) InitialState() string {
	return t.Workflow[0]
}

// UserExists accepts any user unless Users is set.
func (t *Tracker) UserExists(_ context.Context, user string) (bool, error) {
	if len(t.Users) == 0 {
		return true, nil
	}
	return slices.Contains(t.Users, user), nil
}
