package tui

import "github.com/charmbracelet/lipgloss"

// Exported constants.
const (
	// DefaultPadding is the default padding for UI elements.
	DefaultPadding = 2
	// ProgressBarWidth is the default width of progress bars.
	ProgressBarWidth = 40
	// ActivityLogLines is how many recent activity lines the view keeps.
	ActivityLogLines = 8
	// KeyCtrlC is the key binding for quitting.
	KeyCtrlC = "ctrl+c"
)

const accentColorCode = "62"

// AccentColor returns the accent color used across the UI.
func AccentColor() lipgloss.Color { return lipgloss.Color(accentColorCode) }

// BoxStyle returns the style for the main bordered panel.
func BoxStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(AccentColor()).
		Padding(1, DefaultPadding)
}

// TitleStyle returns the style for the panel title.
func TitleStyle() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(AccentColor())
}

// LabelStyle returns the dim style for field labels and hints.
func LabelStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
}

// ErrorStyle returns the style for error lines.
func ErrorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
}

// ConflictStyle returns the style for conflict entries.
func ConflictStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
}

// SelectedStyle returns the style for the highlighted list entry.
func SelectedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(AccentColor())
}
