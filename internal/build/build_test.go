package build

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestValidateRunsBuildAndTests(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()
	v := &Validator{
		Dir:          dir,
		BuildCommand: `sh -c "echo built > build.log"`,
		TestCommand:  `sh -c "echo {tests} > test.log"`,
	}
	if err := v.Validate(context.Background(), []string{"FooTest", "BarTest"}); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(string(data)); got != "FooTest,BarTest" {
		t.Errorf("test command saw %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "build.log")); err != nil {
		t.Errorf("build did not run: %v", err)
	}
}

func TestValidateSkipsTestsWithoutIdentifiers(t *testing.T) {
	requireSh(t)
	v := &Validator{Dir: t.TempDir(), TestCommand: "sh -c 'exit 1'"}
	if err := v.Validate(context.Background(), nil); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestValidateReportsFailure(t *testing.T) {
	requireSh(t)
	v := &Validator{Dir: t.TempDir(), BuildCommand: `sh -c "echo compilation failed; exit 3"`}
	err := v.Validate(context.Background(), nil)
	var failure *Failure
	if !errors.As(err, &failure) {
		t.Fatalf("Validate() error = %v, want *Failure", err)
	}
	if failure.ExitCode != 3 || !strings.Contains(failure.Output, "compilation failed") {
		t.Errorf("failure = %+v", failure)
	}
}

func TestValidateSkip(t *testing.T) {
	v := &Validator{BuildCommand: "definitely-not-a-command", Skip: true}
	if err := v.Validate(context.Background(), []string{"X"}); err != nil {
		t.Errorf("Validate() with Skip error = %v", err)
	}
}

func TestValidateBadCommandLine(t *testing.T) {
	v := &Validator{BuildCommand: `mvn "unterminated`}
	if err := v.Validate(context.Background(), nil); err == nil {
		t.Error("expected parse error")
	}
}

func TestTestMatcher(t *testing.T) {
	m, err := NewTestMatcher("")
	if err != nil {
		t.Fatal(err)
	}
	files := []string{
		"artemis-server/src/main/java/org/apache/Broker.java",
		"tests/integration-tests/src/test/java/org/apache/QueueTest.java",
		"artemis-core/src/test/java/org/apache/QueueTest.java",
		"artemis-core/src/test/java/org/apache/TestSupport.java",
		"artemis-core/src/test/resources/broker.xml",
	}
	want := []string{"QueueTest", "TestSupport"}
	if diff := cmp.Diff(want, m.Tests(files)); diff != "" {
		t.Errorf("Tests() mismatch (-want +got):\n%s", diff)
	}

	if _, err := NewTestMatcher("("); err == nil {
		t.Error("expected error for invalid pattern")
	}
}
