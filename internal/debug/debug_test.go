package debug

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestEnabled(t *testing.T) {
	tests := []struct {
		name    string
		env     bool
		verbose bool
		want    bool
	}{
		{"env set", true, false, true},
		{"verbose flag", false, true, true},
		{"neither", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldEnabled, oldVerbose := enabled, verboseMode
			defer func() { enabled, verboseMode = oldEnabled, oldVerbose }()

			enabled = tt.env
			SetVerbose(tt.verbose)

			if got := Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogf(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		wantOutput string
	}{
		{"outputs when enabled", true, "git fetch origin\n"},
		{"no output when disabled", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldEnabled := enabled
			oldStderr := os.Stderr
			defer func() {
				enabled = oldEnabled
				os.Stderr = oldStderr
			}()

			enabled = tt.enabled

			r, w, _ := os.Pipe()
			os.Stderr = w

			Logf("git %s %s\n", "fetch", "origin")

			w.Close()
			var buf bytes.Buffer
			io.Copy(&buf, r)

			if got := buf.String(); got != tt.wantOutput {
				t.Errorf("Logf() output = %q, want %q", got, tt.wantOutput)
			}
		})
	}
}

func TestLevel(t *testing.T) {
	oldEnabled, oldVerbose, oldQuiet := enabled, verboseMode, quietMode
	defer func() { enabled, verboseMode, quietMode = oldEnabled, oldVerbose, oldQuiet }()

	enabled, verboseMode, quietMode = false, false, false
	if got := Level(); got != slog.LevelInfo {
		t.Errorf("default Level() = %v", got)
	}
	SetQuiet(true)
	if got := Level(); got != slog.LevelWarn {
		t.Errorf("quiet Level() = %v", got)
	}
	SetVerbose(true)
	if got := Level(); got != slog.LevelDebug {
		t.Errorf("verbose Level() = %v", got)
	}
}

func TestNewLogger(t *testing.T) {
	oldEnabled, oldVerbose, oldQuiet := enabled, verboseMode, quietMode
	defer func() { enabled, verboseMode, quietMode = oldEnabled, oldVerbose, oldQuiet }()
	enabled, verboseMode, quietMode = false, false, false

	var buf bytes.Buffer
	logger := NewLogger(&buf)
	logger.Debug("hidden")
	logger.Info("classified", "commit", "abc123", "state", "DONE")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message logged at info level: %q", out)
	}
	if !strings.Contains(out, "commit=abc123") || !strings.Contains(out, "state=DONE") {
		t.Errorf("missing attributes: %q", out)
	}
}

func TestSetQuietAndIsQuiet(t *testing.T) {
	oldQuiet := quietMode
	defer func() { quietMode = oldQuiet }()

	SetQuiet(true)
	if !IsQuiet() {
		t.Error("IsQuiet() = false after SetQuiet(true)")
	}
	SetQuiet(false)
	if IsQuiet() {
		t.Error("IsQuiet() = true after SetQuiet(false)")
	}
}

func TestPrintNormal(t *testing.T) {
	oldQuiet := quietMode
	oldStdout := os.Stdout
	defer func() {
		quietMode = oldQuiet
		os.Stdout = oldStdout
	}()

	for _, quiet := range []bool{false, true} {
		quietMode = quiet
		r, w, _ := os.Pipe()
		os.Stdout = w

		PrintNormal("processed %d commits\n", 3)

		w.Close()
		var buf bytes.Buffer
		io.Copy(&buf, r)

		want := "processed 3 commits\n"
		if quiet {
			want = ""
		}
		if got := buf.String(); got != want {
			t.Errorf("quiet=%v: PrintNormal() output = %q, want %q", quiet, got, want)
		}
	}
}
