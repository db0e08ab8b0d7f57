package correlate

import (
	"errors"
	"fmt"
	"slices"
)

// ErrRevertCycle is returned when revert trailers form a cycle.
var ErrRevertCycle = errors.New("revert cycle")

// RevertChain is a sequence of commits that revert one another, newest
// reverting commit first and the original (non-reverting) target last.
// A chain is shared by all of its members and never modified after it is built.
type RevertChain struct {
	ids []string
}

// IDs returns a copy of the chain's commit ids.
func (c *RevertChain) IDs() []string {
	return slices.Clone(c.ids)
}

// Len returns the number of commits in the chain.
func (c *RevertChain) Len() int {
	return len(c.ids)
}

// Terminal returns the original commit the chain ultimately reverts.
func (c *RevertChain) Terminal() string {
	return c.ids[len(c.ids)-1]
}

// Contains reports whether id is a member of the chain.
func (c *RevertChain) Contains(id string) bool {
	return slices.Contains(c.ids, id)
}

// NetEffect reports whether applying every commit of the chain leaves the
// original change in place (an odd number of commits).
func (c *RevertChain) NetEffect() bool {
	return len(c.ids)%2 == 1
}

type revertPair struct {
	commit   string
	reverted string
}

// buildChains resolves revert pairs into chains. Each chain starts at a
// reverting commit that nothing reverts and follows reverted ids until an id
// that reverts nothing. Chains that meet on a shared commit are merged.
func buildChains(pairs []revertPair) (map[string]*RevertChain, error) {
	reverts := make(map[string]string, len(pairs))
	revertedBy := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		reverts[p.commit] = p.reverted
		revertedBy[p.reverted] = true
	}

	chains := make(map[string]*RevertChain)
	maxLen := len(pairs) + 1
	for _, p := range pairs {
		head := p.commit
		if revertedBy[head] {
			continue
		}
		if _, seen := chains[head]; seen {
			continue
		}

		ids := []string{head}
		visited := map[string]bool{head: true}
		var join *RevertChain
		for cur := head; ; {
			next, ok := reverts[cur]
			if !ok {
				break
			}
			if visited[next] || len(ids) >= maxLen {
				return nil, fmt.Errorf("%w at %s", ErrRevertCycle, next)
			}
			if existing, ok := chains[next]; ok {
				join = existing
				break
			}
			visited[next] = true
			ids = append(ids, next)
			cur = next
		}

		if join != nil {
			ids = append(ids, join.ids...)
		}
		chain := &RevertChain{ids: ids}
		for _, id := range chain.ids {
			chains[id] = chain
		}
	}

	for _, p := range pairs {
		if _, ok := chains[p.commit]; !ok {
			return nil, fmt.Errorf("%w involving %s", ErrRevertCycle, p.commit)
		}
	}
	return chains, nil
}
