package ui

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"golang.org/x/term"
)

// PagerOptions controls pager behavior
type PagerOptions struct {
	// NoPager disables pager for this command (--no-pager flag)
	NoPager bool
}

// terminalOf returns out as a file when it is a terminal.
func terminalOf(out io.Writer) (*os.File, bool) {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil, false
	}
	return f, true
}

// shouldUsePager determines if output written to out should be piped to a
// pager. It never pages when NoPager is set, BP_NO_PAGER is set or out is
// not a terminal.
func shouldUsePager(out io.Writer, opts PagerOptions) (*os.File, bool) {
	if opts.NoPager || os.Getenv("BP_NO_PAGER") != "" {
		return nil, false
	}
	return terminalOf(out)
}

// getPagerCommand returns the pager command to use.
// Checks BP_PAGER, then PAGER, defaults to "less".
func getPagerCommand() string {
	if pager := os.Getenv("BP_PAGER"); pager != "" {
		return pager
	}
	if pager := os.Getenv("PAGER"); pager != "" {
		return pager
	}
	return "less"
}

// contentHeight counts the number of lines in the content.
func contentHeight(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(content, "\n"), "\n") + 1
}

// ToPager writes content to out, through a pager when out is a terminal
// that the content does not fit on.
func ToPager(out io.Writer, content string, opts PagerOptions) error {
	f, ok := shouldUsePager(out, opts)
	if !ok {
		_, err := io.WriteString(out, content)
		return err
	}
	if _, height, err := term.GetSize(int(f.Fd())); err == nil && contentHeight(content) < height {
		_, err := io.WriteString(out, content)
		return err
	}

	// The pager command may include arguments like "less -R".
	parts, err := shlex.Split(getPagerCommand())
	if err != nil || len(parts) == 0 {
		_, err := io.WriteString(out, content)
		return err
	}

	cmd := exec.Command(parts[0], parts[1:]...) // #nosec G204 - pager command is user-configurable by design
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = f
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	// -R keeps colors, -F quits when the content fits, -X keeps the screen.
	if os.Getenv("LESS") == "" {
		cmd.Env = append(cmd.Env, "LESS=-RFX")
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pager %s: %w", parts[0], err)
	}
	return nil
}
