// Package build runs the configured build and test commands against the
// downstream working tree after a cherry-pick.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/google/shlex"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TestsPlaceholder in a test command is replaced by the comma-separated
// test identifiers affected by the commit.
const TestsPlaceholder = "{tests}"

// maxOutput bounds the command output kept in a Failure.
const maxOutput = 4096

// Failure is returned when a build or test command exits unsuccessfully.
type Failure struct {
	Command  string
	ExitCode int
	Output   string // tail of combined stdout and stderr
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%q exited with code %d", f.Command, f.ExitCode)
}

// Validator builds and tests a working tree.
type Validator struct {
	Dir          string
	BuildCommand string // e.g. "mvn -q -DskipTests install"
	TestCommand  string // e.g. "mvn -q -Dtest={tests} -DfailIfNoTests=false test"
	Skip         bool
	Logger       *slog.Logger
}

func (v *Validator) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}

// Validate runs the build command and, when tests are given, the test
// command. It returns a *Failure when either command fails.
func (v *Validator) Validate(ctx context.Context, tests []string) error {
	if v.Skip {
		v.logger().Info("skipping build and tests")
		return nil
	}
	if v.BuildCommand != "" {
		if err := v.run(ctx, "build", v.BuildCommand); err != nil {
			return err
		}
	}
	if v.TestCommand != "" && len(tests) > 0 {
		command := strings.ReplaceAll(v.TestCommand, TestsPlaceholder, strings.Join(tests, ","))
		if err := v.run(ctx, "test", command); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) run(ctx context.Context, phase, command string) (retErr error) {
	args, err := shlex.Split(command)
	if err != nil {
		return fmt.Errorf("parse %s command: %w", phase, err)
	}
	if len(args) == 0 {
		return fmt.Errorf("%s command resolved to empty executable", phase)
	}

	tracer := otel.Tracer("github.com/steveyegge/backport/build")
	ctx, span := tracer.Start(ctx, "build.exec", trace.WithAttributes(
		attribute.String("build.phase", phase),
		attribute.String("build.command", command),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	// #nosec G204 -- command comes from the user's configuration
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = v.Dir
	cmd.WaitDelay = 5 * time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	v.logger().Info("running "+phase, "command", command)
	err = cmd.Run()
	v.logger().Debug(phase+" finished", "elapsed", time.Since(start).Round(time.Millisecond))

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &Failure{Command: command, ExitCode: exitErr.ExitCode(), Output: tail(&out, maxOutput)}
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", phase, err)
	}
	return nil
}

func tail(r io.Reader, n int) string {
	data, _ := io.ReadAll(r)
	if len(data) > n {
		data = data[len(data)-n:]
	}
	return string(data)
}

// TestMatcher selects test identifiers from changed file paths.
type TestMatcher struct {
	pattern *regexp.Regexp
}

// DefaultTestPattern matches Java test sources and captures the class name.
const DefaultTestPattern = `(?:^|/)src/test/java/(?:.*/)?([A-Za-z0-9_]*Test[A-Za-z0-9_]*)\.java$`

// NewTestMatcher compiles pattern. The first capture group, when present,
// is the test identifier; otherwise the whole path is.
func NewTestMatcher(pattern string) (*TestMatcher, error) {
	if pattern == "" {
		pattern = DefaultTestPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile test pattern: %w", err)
	}
	return &TestMatcher{pattern: re}, nil
}

// Tests returns the test identifiers of files, in order and de-duplicated.
func (m *TestMatcher) Tests(files []string) []string {
	var tests []string
	seen := make(map[string]bool)
	for _, f := range files {
		match := m.pattern.FindStringSubmatch(f)
		if match == nil {
			continue
		}
		id := match[0]
		if len(match) > 1 && match[1] != "" {
			id = match[1]
		}
		if !seen[id] {
			seen[id] = true
			tests = append(tests, id)
		}
	}
	return tests
}
