package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Open returns a Repo rooted at the top level of the working tree containing dir.
func Open(ctx context.Context, dir string) (*Repo, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = abs
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %s: %w", abs, err)
	}
	return New(strings.TrimSpace(string(output))), nil
}

// Clone clones url into dir and opens it. An existing repository at dir is
// reused as-is.
func Clone(ctx context.Context, url, dir string) (*Repo, error) {
	if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
		return Open(ctx, dir)
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("create parent of %s: %w", dir, err)
	}
	cmd := exec.CommandContext(ctx, "git", "clone", url, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git clone %s: %s: %w", url, strings.TrimSpace(string(out)), err)
	}
	return Open(ctx, dir)
}

// GitDir returns the actual .git directory of the repository. In a worktree
// .git is a file pointing elsewhere, so git rev-parse is used.
func (r *Repo) GitDir(ctx context.Context) (string, error) {
	out, err := r.output(ctx, "rev-parse", "--git-dir")
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(out) {
		return out, nil
	}
	return filepath.Join(r.Dir, out), nil
}
