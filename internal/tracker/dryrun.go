package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/steveyegge/backport/internal/types"
)

// DryRun decorates an IssueTracker so that no remote mutation happens.
// Reads pass through. Writes are logged and reported as successful, and
// created issues get placeholder keys so that later decisions can refer to
// them.
type DryRun struct {
	IssueTracker
	Logger *slog.Logger

	mu      sync.Mutex
	next    int
	created map[string]*types.Issue
}

// NewDryRun wraps t.
func NewDryRun(t IssueTracker, logger *slog.Logger) *DryRun {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRun{IssueTracker: t, Logger: logger, created: make(map[string]*types.Issue)}
}

// Unwrap returns the wrapped tracker.
func (d *DryRun) Unwrap() IssueTracker { return d.IssueTracker }

func (d *DryRun) would(format string, args ...any) {
	d.Logger.Info("[dry-run] Would " + fmt.Sprintf(format, args...))
}

func (d *DryRun) GetIssue(ctx context.Context, key string) (*types.Issue, error) {
	d.mu.Lock()
	issue, ok := d.created[key]
	d.mu.Unlock()
	if ok {
		c := *issue
		return &c, nil
	}
	return d.IssueTracker.GetIssue(ctx, key)
}

// LinkedIssues adds the placeholder issues created with a link to
// upstreamKey to the wrapped tracker's answer.
func (d *DryRun) LinkedIssues(ctx context.Context, upstreamKey string) ([]string, error) {
	keys, err := d.IssueTracker.LinkedIssues(ctx, upstreamKey)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 1; i <= d.next; i++ {
		if issue := d.created[placeholderKey(i)]; issue != nil && issue.HasUpstreamLink(upstreamKey) {
			keys = append(keys, issue.Key)
		}
	}
	return keys, nil
}

func (d *DryRun) AddLabels(_ context.Context, key string, labels ...string) error {
	d.would("add labels %s to %s", strings.Join(labels, ", "), key)
	return nil
}

func (d *DryRun) AddUpstreamLinks(_ context.Context, key string, links ...string) error {
	d.would("link %s to upstream %s", key, strings.Join(links, ", "))
	return nil
}

func (d *DryRun) SetTargetRelease(_ context.Context, key, release string) error {
	d.would("set target release of %s to %s", key, release)
	return nil
}

func (d *DryRun) TransitionTo(_ context.Context, key, state string) error {
	d.would("transition %s to %s", key, state)
	return nil
}

func (d *DryRun) LinkIssues(_ context.Context, from, to, linkType string) error {
	d.would("link %s to %s (%s)", from, to, linkType)
	return nil
}

// CreateIssue returns a local issue with a placeholder key such as DRYRUN-1.
// The placeholder starts in the wrapped tracker's initial workflow state.
func (d *DryRun) CreateIssue(_ context.Context, req CreateRequest) (*types.Issue, error) {
	var state string
	if s, ok := As[InitialStater](d.IssueTracker); ok {
		state = s.InitialState()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	issue := &types.Issue{
		Key:           placeholderKey(d.next),
		Type:          req.Type,
		State:         state,
		Summary:       req.Summary,
		Description:   req.Description,
		Assignee:      req.Assignee,
		TargetRelease: req.TargetRelease,
		Labels:        append([]string(nil), req.Labels...),
		UpstreamLinks: append([]string(nil), req.UpstreamLinks...),
	}
	d.created[issue.Key] = issue
	d.would("create issue %q as %s", req.Summary, issue.Key)
	c := *issue
	return &c, nil
}

func placeholderKey(n int) string {
	return fmt.Sprintf("DRYRUN-%d", n)
}
