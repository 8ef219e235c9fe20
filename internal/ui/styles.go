package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Color palette
var (
	PrimaryColor = lipgloss.Color("#7D56F4") // Purple - headers, borders
	SuccessColor = lipgloss.Color("#43BF6D") // Green - power on, success
	ErrorColor   = lipgloss.Color("#FF5555") // Red - errors, unavailable
	WarningColor = lipgloss.Color("#FFA500") // Orange - changed values, rebinding
	MutedColor   = lipgloss.Color("#626262") // Gray - labels, secondary info
	TextColor    = lipgloss.Color("#FFFFFF") // White - values
)

// Layout constants
const (
	MinTerminalWidth = 60
	MaxContentWidth  = 100
)

// Shared styles
var (
	HeaderTitleStyle = lipgloss.NewStyle().
				Foreground(TextColor).
				Bold(true).
				PaddingLeft(2)

	HeaderCommandStyle = lipgloss.NewStyle().
				Foreground(MutedColor).
				PaddingLeft(2)

	HeaderParamKeyStyle = lipgloss.NewStyle().
				Foreground(MutedColor).
				PaddingLeft(2)

	HeaderParamValueStyle = lipgloss.NewStyle().
				Foreground(TextColor)

	// SectionTitleStyle heads a group of rows in the status view
	SectionTitleStyle = lipgloss.NewStyle().
				Foreground(PrimaryColor).
				Bold(true)

	// FieldKeyStyle is for row labels in the status view
	FieldKeyStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(22)

	FieldValueStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	// ChangedValueStyle highlights a value that differs from the previous poll
	ChangedValueStyle = lipgloss.NewStyle().
				Foreground(WarningColor).
				Bold(true)

	UnavailableStyle = lipgloss.NewStyle().
				Foreground(ErrorColor).
				Italic(true)

	PowerOnStyle = lipgloss.NewStyle().
			Foreground(SuccessColor).
			Bold(true)

	PowerOffStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Bold(true)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor)

	StatusLineStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			PaddingLeft(2)

	SuccessTitleStyle = lipgloss.NewStyle().
				Foreground(SuccessColor).
				Bold(true)

	ErrorTitleStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	ErrorMessageStyle = lipgloss.NewStyle().
				Foreground(ErrorColor)

	ResultKeyStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Width(15)

	ResultValueStyle = lipgloss.NewStyle().
				Foreground(TextColor)

	TroubleshootingStyle = lipgloss.NewStyle().
				Foreground(MutedColor)
)

// Markers
const (
	SuccessMarker = "✓"
	FailureMarker = "✗"
	ChangedMarker = "●"
)

// GetTerminalWidth returns the current terminal width, with fallback
func GetTerminalWidth() int {
	width, _ := GetTerminalSize()
	return width
}

// GetTerminalSize returns the terminal width clamped to the supported range, and its height
func GetTerminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return MinTerminalWidth, 24
	}
	return clampWidth(width), height
}

func clampWidth(width int) int {
	if width < MinTerminalWidth {
		return MinTerminalWidth
	}
	if width > MaxContentWidth {
		return MaxContentWidth
	}
	return width
}

// IsTerminal reports whether stdout is a terminal
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// BoxStyle returns the rounded border used around the status view
func BoxStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width-2).
		Padding(0, 1)
}
