// Package ui provides terminal styling and pager support for bp CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/steveyegge/backport/internal/types"
)

// Ayu theme color palette
var (
	ColorPass = lipgloss.AdaptiveColor{
		Light: "#86b300",
		Dark:  "#c2d94c",
	}
	ColorWarn = lipgloss.AdaptiveColor{
		Light: "#f2ae49",
		Dark:  "#ffb454",
	}
	ColorFail = lipgloss.AdaptiveColor{
		Light: "#f07171",
		Dark:  "#f07178",
	}
	ColorMuted = lipgloss.AdaptiveColor{
		Light: "#828c99",
		Dark:  "#6c7680",
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#399ee6",
		Dark:  "#59c2ff",
	}
)

// Status styles
var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
)

// HeaderStyle for table headers and section titles
var HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
	IconTodo = "○"
)

// StateStyle returns the style a commit state is rendered with.
func StateStyle(state types.CommitState) lipgloss.Style {
	switch state {
	case types.StateDone:
		return PassStyle
	case types.StateTodo:
		return AccentStyle
	case types.StateIncomplete, types.StateBlocked:
		return WarnStyle
	case types.StateFailed:
		return FailStyle
	default:
		return MutedStyle
	}
}

// StateIcon returns the icon of a commit state.
func StateIcon(state types.CommitState) string {
	switch state {
	case types.StateDone:
		return IconPass
	case types.StateTodo:
		return IconTodo
	case types.StateIncomplete, types.StateBlocked:
		return IconWarn
	case types.StateFailed:
		return IconFail
	default:
		return IconSkip
	}
}

// RenderState renders a commit state with its icon and color.
func RenderState(state types.CommitState) string {
	return StateStyle(state).Render(StateIcon(state) + " " + string(state))
}

// RenderMuted renders text with muted (gray) styling
func RenderMuted(s string) string {
	return MutedStyle.Render(s)
}

// RenderHeader renders a section title in uppercase with accent color
func RenderHeader(s string) string {
	return HeaderStyle.Render(strings.ToUpper(s))
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
