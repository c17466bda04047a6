// Package ui holds the terminal styling shared by the decl commands.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// Plain disables styling entirely, for piped output and tests.
func Plain() bool {
	return termenv.EnvColorProfile() == termenv.Ascii
}

func render(style lipgloss.Style, s string) string {
	if Plain() {
		return s
	}
	return style.Render(s)
}

// RenderPass styles a success message.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn styles a warning.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderErr styles an error message.
func RenderErr(s string) string { return render(errStyle, s) }

// RenderAccent styles identifiers and highlighted values.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderFaint styles secondary detail.
func RenderFaint(s string) string { return render(faintStyle, s) }

// RenderTitle styles section headings.
func RenderTitle(s string) string { return render(titleStyle, s) }

// StatusGlyph maps a sync status name to a one-character marker.
func StatusGlyph(status string) string {
	switch status {
	case "synced":
		return RenderPass("✓")
	case "syncing", "importing":
		return RenderAccent("…")
	case "error", "accountUnavailable":
		return RenderErr("✗")
	default:
		return RenderFaint("·")
	}
}
