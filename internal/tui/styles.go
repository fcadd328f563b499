package tui

import "github.com/charmbracelet/lipgloss"

const AppPadding = 1

var (
	ColorPrimary = lipgloss.Color("#bd93f9")
	ColorSuccess = lipgloss.Color("#50fa7b")
	ColorError   = lipgloss.Color("#ff5555")
	ColorWarning = lipgloss.Color("#ffb86c")
	ColorText    = lipgloss.Color("#f8f8f2")
	ColorSubtext = lipgloss.Color("#6272a4")

	AppStyle = lipgloss.NewStyle().
			Padding(AppPadding, AppPadding*2).
			Foreground(ColorText)

	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	SubtleStyle = lipgloss.NewStyle().
			Foreground(ColorSubtext)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	ActiveStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)
)
