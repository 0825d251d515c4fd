// Package style renders human-facing CLI output: status colors, headers,
// and fixed-width tables for the monitor and status views. JSON mode never
// goes through here.
package style

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	colorIdle    = lipgloss.Color("242") // gray
	colorWorking = lipgloss.Color("39")  // blue
	colorWaiting = lipgloss.Color("214") // orange
	colorError   = lipgloss.Color("196") // bright red
	colorDone    = lipgloss.Color("76")  // green
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorIdle)

	idleStyle    = lipgloss.NewStyle().Foreground(colorIdle)
	workingStyle = lipgloss.NewStyle().Foreground(colorWorking).Bold(true)
	waitingStyle = lipgloss.NewStyle().Foreground(colorWaiting)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	doneStyle    = lipgloss.NewStyle().Foreground(colorDone)
)

// IsTerminal reports whether stdout is a TTY.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor respects NO_COLOR and falls back to TTY detection.
func ShouldUseColor() bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return false
	}
	return IsTerminal()
}

// RenderHeader renders a section heading.
func RenderHeader(text string) string {
	if !ShouldUseColor() {
		return text
	}
	return headerStyle.Render(text)
}

// RenderMuted renders de-emphasized detail text.
func RenderMuted(text string) string {
	if !ShouldUseColor() {
		return text
	}
	return mutedStyle.Render(text)
}

// RenderStatus colors an agent status by its wire name. Unknown statuses
// pass through unstyled.
func RenderStatus(status string) string {
	if !ShouldUseColor() {
		return status
	}
	switch status {
	case "idle":
		return idleStyle.Render(status)
	case "working":
		return workingStyle.Render(status)
	case "waiting":
		return waitingStyle.Render(status)
	case "error":
		return errorStyle.Render(status)
	case "done":
		return doneStyle.Render(status)
	default:
		return status
	}
}
