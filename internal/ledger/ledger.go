// Package ledger persists the results of runs: the commit ledger, a JSON
// array of classified commits merged across runs, and the confirmed-task
// file that gates task execution. Writers take an exclusive file lock and
// replace files atomically so that concurrent runs never lose updates.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/steveyegge/backport/internal/types"
)

// DefaultCommitsFile and DefaultConfirmedFile are the names used inside the
// state directory when no path is configured.
const (
	DefaultCommitsFile   = "commits.json"
	DefaultConfirmedFile = "confirmed-tasks.json"
)

// Load reads the commit ledger at path. A missing file is an empty ledger.
func Load(path string) ([]*types.Commit, error) {
	var commits []*types.Commit
	if err := readJSON(path, &commits); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return commits, nil
}

// Merge returns existing with updates applied. Records are keyed by upstream
// commit: an update replaces the record in place, new commits are appended
// in the order given.
func Merge(existing, updates []*types.Commit) []*types.Commit {
	index := make(map[string]int, len(existing))
	out := make([]*types.Commit, 0, len(existing)+len(updates))
	for _, c := range existing {
		if i, ok := index[c.UpstreamCommit]; ok {
			out[i] = c
			continue
		}
		index[c.UpstreamCommit] = len(out)
		out = append(out, c)
	}
	for _, c := range updates {
		if i, ok := index[c.UpstreamCommit]; ok {
			out[i] = c
			continue
		}
		index[c.UpstreamCommit] = len(out)
		out = append(out, c)
	}
	return out
}

// Update merges commits into the ledger at path under the ledger lock.
func Update(ctx context.Context, path string, commits []*types.Commit) error {
	return withLock(ctx, path, func() error {
		existing, err := Load(path)
		if err != nil {
			return err
		}
		if err := writeJSON(path, Merge(existing, commits)); err != nil {
			return fmt.Errorf("write ledger: %w", err)
		}
		return nil
	})
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path) // #nosec G304 - path from configuration
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeJSON replaces path with the indented JSON encoding of v through a
// temporary file in the same directory.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tempFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
