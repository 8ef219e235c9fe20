package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/greehp/internal/protocol"
)

// Result is a success or failure box printed after a command
type Result struct {
	Success bool
	Title   string
	Details []Param
	Error   error
	Hint    string // multi-line troubleshooting text, failures only
	Width   int
}

// NewSuccessResult creates a success box
func NewSuccessResult(title string, details ...Param) *Result {
	return &Result{Success: true, Title: title, Details: details, Width: GetTerminalWidth()}
}

// NewFailureResult creates a failure box. Protocol errors are shown with
// their short message and troubleshooting hint.
func NewFailureResult(title string, err error) *Result {
	r := &Result{Title: title, Error: err, Width: GetTerminalWidth()}
	var pe *protocol.Error
	if errors.As(err, &pe) {
		r.Hint = protocol.TroubleshootingHint(err)
	}
	return r
}

// Render returns the styled result box
func (r *Result) Render() string {
	width := clampWidth(r.Width)

	color := SuccessColor
	title := SuccessTitleStyle.Render(fmt.Sprintf("   %s  SUCCESS  ─  %s", SuccessMarker, r.Title))
	if !r.Success {
		color = ErrorColor
		title = ErrorTitleStyle.Render(fmt.Sprintf("   %s  FAILED  ─  %s", FailureMarker, r.Title))
	}

	lines := []string{"", title, ""}
	for _, d := range r.Details {
		lines = append(lines, ResultKeyStyle.Render("   "+d.Key+":")+" "+ResultValueStyle.Render(d.Value))
	}
	if len(r.Details) > 0 {
		lines = append(lines, "")
	}

	if r.Error != nil {
		msg := r.Error.Error()
		if r.Hint != "" {
			msg = protocol.ShortMessage(r.Error)
		}
		lines = append(lines, ErrorMessageStyle.Render("   Error: "+msg), "")
	}
	if r.Hint != "" {
		for _, l := range strings.Split(r.Hint, "\n") {
			lines = append(lines, TroubleshootingStyle.Render("   "+l))
		}
		lines = append(lines, "")
	}

	return lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(color).
		Width(width-2).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))
}

// String implements fmt.Stringer
func (r *Result) String() string {
	return r.Render()
}
