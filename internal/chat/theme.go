package chat

import "github.com/charmbracelet/lipgloss"

// Theme holds the colors of the chat loop.
type Theme struct {
	User  lipgloss.Color
	Model lipgloss.Color
	Faint lipgloss.Color
	Error lipgloss.Color
}

// DefaultTheme uses 256-color codes that read on dark and light terminals.
var DefaultTheme = Theme{
	User:  lipgloss.Color("75"),  // blue
	Model: lipgloss.Color("114"), // green
	Faint: lipgloss.Color("245"),
	Error: lipgloss.Color("196"),
}

// Styles are the rendered text styles of the chat loop.
type Styles struct {
	UserLabel  lipgloss.Style
	ModelLabel lipgloss.Style
	Info       lipgloss.Style
	Error      lipgloss.Style
}

// NewStyles builds the label and message styles of theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		UserLabel:  lipgloss.NewStyle().Bold(true).Foreground(theme.User),
		ModelLabel: lipgloss.NewStyle().Bold(true).Foreground(theme.Model),
		Info:       lipgloss.NewStyle().Foreground(theme.Faint),
		Error:      lipgloss.NewStyle().Foreground(theme.Error),
	}
}

// PlainStyles renders text unchanged.
func PlainStyles() Styles {
	return Styles{
		UserLabel:  lipgloss.NewStyle(),
		ModelLabel: lipgloss.NewStyle(),
		Info:       lipgloss.NewStyle(),
		Error:      lipgloss.NewStyle(),
	}
}
