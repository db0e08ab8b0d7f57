// Package tracker defines how the backport tool talks to issue trackers.
//
// Two trackers take part in a run: the upstream project's tracker and the
// downstream product tracker. Each integration (Jira, GitHub, in-memory)
// implements IssueTracker and registers a factory under its name. Shared
// decorators add retries, dry-run behavior and bulk loading on top.
package tracker

import (
	"context"
	"errors"

	"github.com/steveyegge/backport/internal/types"
)

// ErrUnknownState is returned by StateIndex for a workflow state the
// tracker does not define.
var ErrUnknownState = errors.New("unknown workflow state")

// ErrNotInitialized is returned when a tracker is used before Init.
var ErrNotInitialized = errors.New("tracker not initialized")

// CreateRequest describes an issue to create.
type CreateRequest struct {
	Summary       string
	Description   string
	Type          types.IssueType
	Assignee      string
	TargetRelease string
	Labels        []string
	UpstreamLinks []string
}

// IssueTracker is the set of tracker operations the reconciliation engine uses.
type IssueTracker interface {
	// Name returns the lowercase identifier of the integration (e.g. "jira").
	Name() string

	// GetIssue fetches an issue by key. Returns nil, nil if it does not exist.
	GetIssue(ctx context.Context, key string) (*types.Issue, error)

	// ParseIssueKeys returns the issue keys of this tracker mentioned in text,
	// in order of appearance and without duplicates.
	ParseIssueKeys(text string) []string

	// LinkedIssues returns the keys of issues that record upstreamKey as
	// their upstream issue.
	LinkedIssues(ctx context.Context, upstreamKey string) ([]string, error)

	AddLabels(ctx context.Context, key string, labels ...string) error
	AddUpstreamLinks(ctx context.Context, key string, links ...string) error
	SetTargetRelease(ctx context.Context, key, release string) error
	TransitionTo(ctx context.Context, key, state string) error
	CreateIssue(ctx context.Context, req CreateRequest) (*types.Issue, error)
	LinkIssues(ctx context.Context, from, to, linkType string) error

	// StateIndex returns the ordinal of a workflow state; later states in the
	// workflow have larger indexes. Unknown states yield ErrUnknownState.
	StateIndex(state string) (int, error)
}

// Plugin is an IssueTracker that can be created from the registry and
// configured at runtime.
type Plugin interface {
	IssueTracker

	// Init configures the tracker. Called once before any other operation.
	Init(ctx context.Context, cfg *Config) error

	// Store returns the issue store owned by the tracker.
	Store() *Store
}

// Loader is implemented by trackers that can bulk-load issues matching a
// query into their store.
type Loader interface {
	Load(ctx context.Context, query string) (int, error)
}

// UserDirectory is implemented by trackers that can tell whether a user
// exists, so that assignees unknown to the tracker can be skipped.
type UserDirectory interface {
	UserExists(ctx context.Context, user string) (bool, error)
}

// InitialStater is implemented by trackers that know the workflow state new
// issues start in.
type InitialStater interface {
	InitialState() string
}

// Unwrapper is implemented by decorators to expose the tracker they wrap.
type Unwrapper interface {
	Unwrap() IssueTracker
}

// As finds the first tracker in the decorator chain of t that implements T.
func As[T any](t IssueTracker) (T, bool) {
	for t != nil {
		if v, ok := t.(T); ok {
			return v, true
		}
		u, ok := t.(Unwrapper)
		if !ok {
			break
		}
		t = u.Unwrap()
	}
	var zero T
	return zero, false
}
