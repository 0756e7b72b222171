package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// colorEnabled reports whether stdout should receive styled output.
var colorEnabled = func() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func render(style lipgloss.Style, value string) string {
	if !colorEnabled() {
		return value
	}
	return style.Render(value)
}

// Header styles a table header cell.
func Header(value string) string { return render(headerStyle, value) }

// Muted styles secondary information such as "in use" markers.
func Muted(value string) string { return render(mutedStyle, value) }

// Outcome styles an execution outcome.
func Outcome(value string, ok bool) string {
	if ok {
		return render(successStyle, value)
	}
	return render(failureStyle, value)
}
