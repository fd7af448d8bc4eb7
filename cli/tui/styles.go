// Package tui provides Bubble Tea TUI components for the colony CLI.
//
// TUI is opt-in (--tui) and read-only, and renders the same payloads as
// the json/table/yaml output.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	primaryColor   = lipgloss.Color("#0F766E") // Teal
	successColor   = lipgloss.Color("#22C55E") // Green
	warningColor   = lipgloss.Color("#EAB308") // Yellow
	mutedColor     = lipgloss.Color("#94A3B8") // Slate
	highlightColor = lipgloss.Color("#06B6D4") // Cyan
)

// Styles for TUI components.
var (
	// TitleStyle for headers and titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	// LabelStyle for secondary text.
	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	// BoxStyle frames the agent table.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(mutedColor)

	// HelpStyle for help text.
	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// StatBoxStyle for stat display boxes.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 1).
			Width(14).
			Align(lipgloss.Center)

	// StatLabelStyle for stat labels.
	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Align(lipgloss.Center)

	// StatValueStyle for stat values.
	StatValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Align(lipgloss.Center)
)
