package ui

import "github.com/charmbracelet/lipgloss"

// Status-code coloring for the trace list rows: green=2xx,
// yellow=3xx, red=4xx, magenta=5xx, white for anything else.
var (
	colorOK       = lipgloss.Color("42")  // 2xx
	colorRedirect = lipgloss.Color("220") // 3xx
	colorClient   = lipgloss.Color("196") // 4xx
	colorServer   = lipgloss.Color("201") // 5xx
	colorUnknown  = lipgloss.Color("255")

	colorActiveBorder   = lipgloss.Color("62")
	colorInactiveBorder = lipgloss.Color("240")
)

func statusColor(code uint16) lipgloss.Color {
	switch {
	case code >= 200 && code < 300:
		return colorOK
	case code >= 300 && code < 400:
		return colorRedirect
	case code >= 400 && code < 500:
		return colorClient
	case code >= 500:
		return colorServer
	default:
		return colorUnknown
	}
}

var (
	statusStyle = lipgloss.NewStyle().Bold(true)
	methodStyle = lipgloss.NewStyle().Faint(true)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorInactiveBorder).
			Padding(0, 1)

	activePaneStyle = paneStyle.BorderForeground(colorActiveBorder)

	helpStyle = lipgloss.NewStyle().Faint(true)

	filterPromptStyle = lipgloss.NewStyle().Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Background(colorActiveBorder)
)
