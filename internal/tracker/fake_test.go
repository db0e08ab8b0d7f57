package tracker

import (
	"context"
	"sync"

	"github.com/steveyegge/backport/internal/types"
)

// fakeTracker fails the first failures calls of each operation with err.
type fakeTracker struct {
	mu       sync.Mutex
	err      error
	failures int
	calls    map[string]int
}

func newFakeTracker(err error, failures int) *fakeTracker {
	return &fakeTracker{err: err, failures: failures, calls: make(map[string]int)}
}

func (f *fakeTracker) call(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.calls[op] <= f.failures {
		return f.err
	}
	return nil
}

func (f *fakeTracker) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeTracker) Name() string { return "fake" }

func (f *fakeTracker) GetIssue(_ context.Context, key string) (*types.Issue, error) {
	if err := f.call("GetIssue"); err != nil {
		return nil, err
	}
	return &types.Issue{Key: key}, nil
}

func (f *fakeTracker) ParseIssueKeys(string) []string { return nil }

func (f *fakeTracker) LinkedIssues(context.Context, string) ([]string, error) {
	return nil, f.call("LinkedIssues")
}

func (f *fakeTracker) AddLabels(context.Context, string, ...string) error {
	return f.call("AddLabels")
}

func (f *fakeTracker) AddUpstreamLinks(context.Context, string, ...string) error {
	return f.call("AddUpstreamLinks")
}

func (f *fakeTracker) SetTargetRelease(context.Context, string, string) error {
	return f.call("SetTargetRelease")
}

func (f *fakeTracker) TransitionTo(context.Context, string, string) error {
	return f.call("TransitionTo")
}

func (f *fakeTracker) CreateIssue(_ context.Context, req CreateRequest) (*types.Issue, error) {
	if err := f.call("CreateIssue"); err != nil {
		return nil, err
	}
	return &types.Issue{Key: "FAKE-1", Summary: req.Summary}, nil
}

func (f *fakeTracker) LinkIssues(context.Context, string, string, string) error {
	return f.call("LinkIssues")
}

func (f *fakeTracker) StateIndex(string) (int, error) { return 0, nil }

func (f *fakeTracker) InitialState() string { return "New" }
