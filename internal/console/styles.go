package console

import "github.com/charmbracelet/lipgloss"

// Palette.
var (
	primary = lipgloss.AdaptiveColor{Light: "#101F38", Dark: "#8BC34A"}
	accent  = lipgloss.AdaptiveColor{Light: "#2196F3", Dark: "#4db6ac"}
	muted   = lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#9ca3af"}
	danger  = lipgloss.Color("#e53935")
)

type styles struct {
	Header lipgloss.Style
	You    lipgloss.Style
	Robot  lipgloss.Style
	Text   lipgloss.Style
	Note   lipgloss.Style
	Error  lipgloss.Style
	Footer lipgloss.Style
	Input  lipgloss.Style
}

func newStyles() styles {
	return styles{
		Header: lipgloss.NewStyle().Bold(true).Foreground(primary).Padding(0, 1),
		You:    lipgloss.NewStyle().Bold(true).Foreground(primary),
		Robot:  lipgloss.NewStyle().Bold(true).Foreground(accent),
		Text:   lipgloss.NewStyle().PaddingLeft(2),
		Note:   lipgloss.NewStyle().Foreground(muted).Italic(true),
		Error:  lipgloss.NewStyle().Foreground(danger),
		Footer: lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
		Input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(muted),
	}
}
