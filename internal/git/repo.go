// Package git wraps the git command line for the operations the backport
// tool needs: reading history, cherry-picking and publishing results.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/steveyegge/backport/internal/debug"
)

// Identity is a git author or committer.
type Identity struct {
	Name  string
	Email string
}

func (id Identity) String() string {
	return fmt.Sprintf("%s <%s>", id.Name, id.Email)
}

// Repo is a local git working tree.
type Repo struct {
	Dir string
}

// New returns a Repo for an existing working tree at dir.
func New(dir string) *Repo {
	return &Repo{Dir: dir}
}

func (r *Repo) command(ctx context.Context, env []string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	return cmd
}

func (r *Repo) run(ctx context.Context, args ...string) error {
	debug.Logf("git %s\n", strings.Join(args, " "))
	if out, err := r.command(ctx, nil, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (r *Repo) output(ctx context.Context, args ...string) (string, error) {
	debug.Logf("git %s\n", strings.Join(args, " "))
	var stderr bytes.Buffer
	cmd := r.command(ctx, nil, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Fetch fetches all refs from remote.
func (r *Repo) Fetch(ctx context.Context, remote string) error {
	return r.run(ctx, "fetch", "--prune", remote)
}

// Checkout checks out ref.
func (r *Repo) Checkout(ctx context.Context, ref string) error {
	return r.run(ctx, "checkout", "--quiet", ref)
}

// CreateBranch creates branch name at start and checks it out.
func (r *Repo) CreateBranch(ctx context.Context, name, start string) error {
	return r.run(ctx, "checkout", "--quiet", "-b", name, start)
}

// DeleteBranch force-deletes the local branch name.
func (r *Repo) DeleteBranch(ctx context.Context, name string) error {
	return r.run(ctx, "branch", "-D", name)
}

// BranchExists reports whether the local branch name exists.
func (r *Repo) BranchExists(ctx context.Context, name string) (bool, error) {
	err := r.command(ctx, nil, "rev-parse", "--verify", "--quiet", "refs/heads/"+name).Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("git rev-parse %s: %w", name, err)
}

// Head returns the id of the commit checked out.
func (r *Repo) Head(ctx context.Context) (string, error) {
	return r.output(ctx, "rev-parse", "HEAD")
}

// CherryPick applies the changes of commit id to the working tree and index
// without committing. It returns false when the pick does not apply cleanly;
// the caller is expected to reset the tree.
func (r *Repo) CherryPick(ctx context.Context, id string) (bool, error) {
	debug.Logf("git cherry-pick --no-commit %s\n", id)
	out, err := r.command(ctx, nil, "cherry-pick", "--no-commit", id).CombinedOutput()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		debug.Logf("cherry-pick %s did not apply: %s\n", id, strings.TrimSpace(string(out)))
		return false, nil
	}
	return false, fmt.Errorf("git cherry-pick %s: %w", id, err)
}

// Commit records the index as a new commit and returns its id.
func (r *Repo) Commit(ctx context.Context, message string, author, committer Identity) (string, error) {
	env := []string{
		"GIT_COMMITTER_NAME=" + committer.Name,
		"GIT_COMMITTER_EMAIL=" + committer.Email,
	}
	cmd := r.command(ctx, env, "commit", "--quiet", "--allow-empty", "--author", author.String(), "--file", "-")
	cmd.Stdin = strings.NewReader(message)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git commit: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return r.Head(ctx)
}

// Push pushes ref to remote.
func (r *Repo) Push(ctx context.Context, remote, ref string) error {
	return r.run(ctx, "push", remote, ref)
}

// ResetHard resets the index and working tree to ref and removes untracked files.
func (r *Repo) ResetHard(ctx context.Context, ref string) error {
	if err := r.run(ctx, "reset", "--hard", "--quiet", ref); err != nil {
		return err
	}
	return r.run(ctx, "clean", "-fdq")
}

// ChangedFiles lists the paths touched by commit id.
func (r *Repo) ChangedFiles(ctx context.Context, id string) ([]string, error) {
	out, err := r.output(ctx, "diff-tree", "--no-commit-id", "--name-only", "-r", "--root", id)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}
