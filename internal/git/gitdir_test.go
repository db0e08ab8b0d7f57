package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// setupTestRepo creates a repository with one commit on branch main.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "init", "--quiet", "--initial-branch=main")
	gitCmd(t, dir, "config", "user.name", "Test User")
	gitCmd(t, dir, "config", "user.email", "test@example.com")
	gitCmd(t, dir, "config", "commit.gpgsign", "false")
	writeAndCommit(t, dir, "README.md", "hello\n", "Initial commit")
	return dir
}

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func writeAndCommit(t *testing.T, dir, name, content, message string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	gitCmd(t, dir, "add", name)
	gitCmd(t, dir, "commit", "--quiet", "-m", message)
	return gitCmd(t, dir, "rev-parse", "HEAD")
}

func TestOpenFromSubdirectory(t *testing.T) {
	dir := setupTestRepo(t)
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	repo, err := Open(context.Background(), sub)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(repo.Dir)
	if got != want {
		t.Errorf("Dir = %q, want %q", got, want)
	}

	gitDir, err := repo.GitDir(context.Background())
	if err != nil {
		t.Fatalf("GitDir() error = %v", err)
	}
	if filepath.Base(gitDir) != ".git" {
		t.Errorf("GitDir() = %q", gitDir)
	}
}

func TestOpenNotARepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	if _, err := Open(context.Background(), t.TempDir()); err == nil {
		t.Error("Open() on a plain directory succeeded")
	}
}

func TestCloneReusesExisting(t *testing.T) {
	src := setupTestRepo(t)
	dst := filepath.Join(t.TempDir(), "clone")
	ctx := context.Background()

	repo, err := Clone(ctx, src, dst)
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	head, err := repo.Head(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := gitCmd(t, src, "rev-parse", "HEAD"); head != want {
		t.Errorf("Head() = %s, want %s", head, want)
	}

	if _, err := Clone(ctx, "/does/not/exist", dst); err != nil {
		t.Errorf("second Clone() should reuse %s: %v", dst, err)
	}
}
