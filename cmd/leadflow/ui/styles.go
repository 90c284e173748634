// Package ui renders the live campaign progress view.
package ui

import "github.com/charmbracelet/lipgloss"

// Semantic colors, adaptive to the terminal background.
var (
	accentColor = lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#8BC34A"}
	errorColor  = lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#e57373"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#9a6700", Dark: "#FFC107"}
	infoColor   = lipgloss.AdaptiveColor{Light: "#0969da", Dark: "#2196F3"}
	mutedColor  = lipgloss.AdaptiveColor{Light: "#6e7781", Dark: "#768390"}
	brandColor  = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#8BC34A"}
)

// Styles holds the styled components of the progress view.
type Styles struct {
	Header  lipgloss.Style
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Bold    lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Badge   lipgloss.Style
}

// DefaultStyles returns the standard style set.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Background(brandColor).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 2).
			Bold(true),

		Title: lipgloss.NewStyle().
			Foreground(brandColor).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(mutedColor),

		Bold: lipgloss.NewStyle().
			Bold(true),

		Success: lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(warnColor).
			Bold(true),

		Info: lipgloss.NewStyle().
			Foreground(infoColor),

		Badge: lipgloss.NewStyle().
			Background(warnColor).
			Foreground(lipgloss.Color("#000000")).
			Padding(0, 1).
			Bold(true),
	}
}
