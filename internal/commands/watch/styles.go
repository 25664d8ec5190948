package watch

import "github.com/charmbracelet/lipgloss"

// Theme represents the color theme of the watch view
type Theme struct {
	Primary lipgloss.AdaptiveColor
	Success lipgloss.AdaptiveColor
	Warning lipgloss.AdaptiveColor
	Error   lipgloss.AdaptiveColor
	Info    lipgloss.AdaptiveColor
	Text    lipgloss.AdaptiveColor
	TextDim lipgloss.AdaptiveColor
	Border  lipgloss.AdaptiveColor
}

// DefaultTheme is a Gruvbox-inspired palette
var DefaultTheme = Theme{
	Primary: lipgloss.AdaptiveColor{Light: "#b57614", Dark: "#fe8019"},
	Success: lipgloss.AdaptiveColor{Light: "#98971a", Dark: "#b8bb26"},
	Warning: lipgloss.AdaptiveColor{Light: "#d79921", Dark: "#fabd2f"},
	Error:   lipgloss.AdaptiveColor{Light: "#cc241d", Dark: "#fb4934"},
	Info:    lipgloss.AdaptiveColor{Light: "#458588", Dark: "#83a598"},
	Text:    lipgloss.AdaptiveColor{Light: "#3c3836", Dark: "#fbf1c7"},
	TextDim: lipgloss.AdaptiveColor{Light: "#7c6f64", Dark: "#a89984"},
	Border:  lipgloss.AdaptiveColor{Light: "#d5c4a1", Dark: "#504945"},
}

// Styles contains the styles of the watch view
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Subtle  lipgloss.Style
	Online  lipgloss.Style
	Offline lipgloss.Style
	Error   lipgloss.Style
	Notice  lipgloss.Style
	Spinner lipgloss.Style
	Panel   lipgloss.Style
}

// DefaultStyles returns the styles built from DefaultTheme
func DefaultStyles() Styles {
	theme := DefaultTheme

	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(theme.Primary),
		Label:   lipgloss.NewStyle().Foreground(theme.TextDim).Width(14),
		Value:   lipgloss.NewStyle().Foreground(theme.Text),
		Subtle:  lipgloss.NewStyle().Foreground(theme.TextDim),
		Online:  lipgloss.NewStyle().Bold(true).Foreground(theme.Success),
		Offline: lipgloss.NewStyle().Bold(true).Foreground(theme.Error),
		Error:   lipgloss.NewStyle().Foreground(theme.Error),
		Notice:  lipgloss.NewStyle().Foreground(theme.Info),
		Spinner: lipgloss.NewStyle().Foreground(theme.Warning),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border).
			Padding(0, 1),
	}
}
