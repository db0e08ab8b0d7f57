package ledger

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/backport/internal/types"
)

// LoadConfirmed reads the confirmed-task file at path, a JSON array of
// {"type","key","value"} records. A missing file confirms nothing.
func LoadConfirmed(path string) ([]types.TaskIdentity, error) {
	var ids []types.TaskIdentity
	if err := readJSON(path, &ids); err != nil {
		return nil, fmt.Errorf("load confirmed tasks: %w", err)
	}
	return ids, nil
}

// AppendConfirmed adds ids to the confirmed-task file at path, skipping
// identities already present. It returns the number of identities added.
func AppendConfirmed(ctx context.Context, path string, ids []types.TaskIdentity) (int, error) {
	added := 0
	err := withLock(ctx, path, func() error {
		existing, err := LoadConfirmed(path)
		if err != nil {
			return err
		}
		seen := make(map[types.TaskIdentity]bool, len(existing))
		for _, id := range existing {
			seen[id] = true
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			existing = append(existing, id)
			added++
		}
		if added == 0 {
			return nil
		}
		if err := writeJSON(path, existing); err != nil {
			return fmt.Errorf("write confirmed tasks: %w", err)
		}
		return nil
	})
	return added, err
}

// Unconfirmed returns the identities of the unconfirmed tasks recorded on
// commits, in ledger order and without duplicates.
func Unconfirmed(commits []*types.Commit) []types.TaskIdentity {
	seen := make(map[types.TaskIdentity]bool)
	var out []types.TaskIdentity
	for _, c := range commits {
		for _, t := range c.Tasks {
			id := t.Identity()
			if t.State != types.TaskUnconfirmed || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// plan is the YAML document exchanged for review.
type plan struct {
	Tasks []types.TaskIdentity `yaml:"tasks"`
}

// ExportYAML writes ids as a YAML plan that reviewers can edit and feed back
// through ReadYAML.
func ExportYAML(w io.Writer, ids []types.TaskIdentity) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(plan{Tasks: ids}); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return enc.Close()
}

// ReadYAML reads a plan written by ExportYAML. Unknown task types are rejected.
func ReadYAML(r io.Reader) ([]types.TaskIdentity, error) {
	var p plan
	if err := yaml.NewDecoder(r).Decode(&p); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	for _, id := range p.Tasks {
		if !id.Type.IsValid() || id.Key == "" {
			return nil, fmt.Errorf("decode plan: invalid task %s", id)
		}
	}
	return p.Tasks, nil
}
