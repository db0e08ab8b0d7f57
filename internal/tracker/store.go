package tracker

import (
	"slices"
	"sort"
	"sync"

	"github.com/steveyegge/backport/internal/types"
)

// Store is the issue cache owned by one tracker. It remembers issues that
// were fetched or bulk-loaded and keys known not to exist. Callers receive
// copies; mutations go through Put and Update.
type Store struct {
	mu      sync.RWMutex
	issues  map[string]*types.Issue
	missing map[string]bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		issues:  make(map[string]*types.Issue),
		missing: make(map[string]bool),
	}
}

// Lookup returns a copy of the issue stored under key. known is true when the
// key was stored, including keys recorded as missing (issue is then nil).
func (s *Store) Lookup(key string) (issue *types.Issue, known bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.missing[key] {
		return nil, true
	}
	if i, ok := s.issues[key]; ok {
		return cloneIssue(i), true
	}
	return nil, false
}

// Put stores a copy of issue.
func (s *Store) Put(issue *types.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.missing, issue.Key)
	s.issues[issue.Key] = cloneIssue(issue)
}

// PutMissing records that key does not exist in the tracker.
func (s *Store) PutMissing(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.issues, key)
	s.missing[key] = true
}

// Update applies fn to the stored issue under key. It reports whether the
// issue was present.
func (s *Store) Update(key string, fn func(*types.Issue)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.issues[key]
	if !ok {
		return false
	}
	fn(i)
	return true
}

// Forget drops key so the next lookup goes back to the tracker.
func (s *Store) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.issues, key)
	delete(s.missing, key)
}

// Len returns the number of stored issues.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.issues)
}

// Keys returns the stored issue keys, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.issues))
	for k := range s.issues {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LinkedTo returns the keys of stored issues carrying an upstream link to
// upstreamKey, sorted.
func (s *Store) LinkedTo(upstreamKey string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k, i := range s.issues {
		if i.HasUpstreamLink(upstreamKey) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func cloneIssue(i *types.Issue) *types.Issue {
	c := *i
	c.Labels = slices.Clone(i.Labels)
	c.Links = slices.Clone(i.Links)
	c.UpstreamLinks = slices.Clone(i.UpstreamLinks)
	return &c
}
