package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Output formats accepted by --format
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// ValidateFormat checks an output format name
func ValidateFormat(format string) error {
	switch format {
	case FormatTable, FormatJSON:
		return nil
	default:
		return fmt.Errorf("unknown output format %q (use table or json)", format)
	}
}

// Printer writes command output in the selected format.
// In JSON mode headers and boxes are suppressed and only values are written.
type Printer struct {
	out    io.Writer
	width  int
	format string
}

// NewPrinter creates a Printer that writes to w. If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer, format string) *Printer {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = FormatTable
	}
	return &Printer{out: w, width: GetTerminalWidth(), format: format}
}

// JSON reports whether the printer emits JSON
func (p *Printer) JSON() bool {
	return p.format == FormatJSON
}

// Width returns the rendering width
func (p *Printer) Width() int {
	return p.width
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// PrintHeader prints a command header box (table mode only)
func (p *Printer) PrintHeader(h *Header) {
	if p.JSON() {
		return
	}
	p.Println(h.SetWidth(p.width).Render())
}

// PrintResult prints a result box, or v as JSON in JSON mode
func (p *Printer) PrintResult(r *Result, v any) error {
	if p.JSON() {
		return p.PrintJSON(v)
	}
	r.Width = p.width
	p.Println(r.Render())
	return nil
}

// PrintStatus prints a status view, or v as JSON in JSON mode
func (p *Printer) PrintStatus(view StatusView, v any) error {
	if p.JSON() {
		return p.PrintJSON(v)
	}
	view.Width = p.width
	p.Println(view.Render())
	return nil
}

// PrintJSON writes v as indented JSON
func (p *Printer) PrintJSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
