package dashboard

import "github.com/charmbracelet/lipgloss"

var (
	// Base colors
	primaryColor = lipgloss.Color("212")
	mutedColor   = lipgloss.Color("241")
	successColor = lipgloss.Color("42")
	warningColor = lipgloss.Color("214")
	errorColor   = lipgloss.Color("196")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	subtleStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	countStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
	okStyle      = lipgloss.NewStyle().Foreground(successColor)
)
