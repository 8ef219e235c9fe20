package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/greehp/internal/poller"
	"github.com/muurk/greehp/internal/protocol"
	"github.com/muurk/greehp/internal/telemetry"
)

const unavailable = "unavailable"

// StatusView renders a snapshot as labelled rows. Names in Changed (field
// names or quantity names) are highlighted.
type StatusView struct {
	Snapshot poller.Snapshot
	Changed  map[string]bool
	ShowRaw  bool
	Width    int
}

// Render returns the status box
func (v StatusView) Render() string {
	width := clampWidth(v.Width)
	s := v.Snapshot

	var sections []string

	control := []string{SectionTitleStyle.Render("Control")}
	control = append(control, v.row("Power", protocol.FieldPower, v.power()))
	control = append(control, v.row("Mode", protocol.FieldMode, v.mode()))
	for _, kind := range protocol.TemperatureKinds {
		field, _ := kind.Field()
		control = append(control, v.row(setPointLabel(kind), field, v.setPoint(field)))
	}
	sections = append(sections, strings.Join(control, "\n"))

	temps := []string{SectionTitleStyle.Render("Temperatures")}
	for _, q := range telemetry.Quantities {
		val := unavailable
		if s.ReadingAvailable(q) {
			t, _ := s.Readings.Get(q)
			val = fmt.Sprintf("%.1f °C", t)
		}
		temps = append(temps, v.row(q.Label, q.Name, val))
	}
	sections = append(sections, strings.Join(temps, "\n"))

	if v.ShowRaw {
		raw := []string{SectionTitleStyle.Render("Fields")}
		names := make([]string, 0, len(s.Data))
		for name := range s.Data {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			raw = append(raw, v.row(name, name, fmt.Sprint(s.Data[name])))
		}
		if len(names) == 0 {
			raw = append(raw, UnavailableStyle.Render("no fields"))
		}
		sections = append(sections, strings.Join(raw, "\n"))
	}

	sections = append(sections, v.statusLine())

	return BoxStyle(width).Render(strings.Join(sections, "\n\n"))
}

// String implements fmt.Stringer
func (v StatusView) String() string {
	return v.Render()
}

func (v StatusView) row(label, name, value string) string {
	style := FieldValueStyle
	marker := " "
	switch {
	case value == unavailable:
		style = UnavailableStyle
	case v.Changed[name]:
		style = ChangedValueStyle
		marker = ChangedMarker
	}
	return FieldKeyStyle.Render(label) + style.Render(value) + " " + ChangedValueStyle.Render(marker)
}

func (v StatusView) power() string {
	s := v.Snapshot
	if !s.FieldAvailable(protocol.FieldPower) {
		return unavailable
	}
	n, ok := s.Data.Int(protocol.FieldPower)
	if !ok {
		return fmt.Sprint(s.Data[protocol.FieldPower])
	}
	if n == 1 {
		return PowerOnStyle.Render("ON")
	}
	return PowerOffStyle.Render("OFF")
}

func (v StatusView) mode() string {
	s := v.Snapshot
	if !s.FieldAvailable(protocol.FieldMode) {
		return unavailable
	}
	n, ok := s.Data.Int(protocol.FieldMode)
	if !ok {
		return fmt.Sprint(s.Data[protocol.FieldMode])
	}
	return fmt.Sprintf("%s (%d)", protocol.Mode(n), n)
}

func (v StatusView) setPoint(field string) string {
	s := v.Snapshot
	if !s.FieldAvailable(field) {
		return unavailable
	}
	n, ok := s.Data.Int(field)
	if !ok {
		return fmt.Sprint(s.Data[field])
	}
	return fmt.Sprintf("%d °C", n)
}

func (v StatusView) statusLine() string {
	s := v.Snapshot
	parts := []string{s.Device, s.Host}
	if s.MAC != "" {
		parts = append(parts, s.MAC)
	}
	switch {
	case s.Rebinding && s.Recovering:
		parts = append(parts, lipgloss.NewStyle().Foreground(WarningColor).Render(
			fmt.Sprintf("rebinding (attempt %d)", s.RetryCount)))
	case !s.Available:
		parts = append(parts, UnavailableStyle.Render("unreachable"))
	}
	if !s.At.IsZero() {
		parts = append(parts, "updated "+s.At.Format("15:04:05"))
	}
	return StatusLineStyle.Render(strings.Join(parts, " · "))
}

func setPointLabel(kind protocol.TemperatureKind) string {
	switch kind {
	case protocol.TemperatureCold:
		return "Cold water set"
	case protocol.TemperatureHot:
		return "Hot water set"
	default:
		return "Shower water set"
	}
}

// Diff returns the names whose values differ between two polls: field
// names for raw fields and quantity names for derived temperatures. A
// previous poll that was empty yields no changes.
func Diff(prev, next poller.Snapshot) map[string]bool {
	changed := make(map[string]bool)
	if len(prev.Data) == 0 {
		return changed
	}
	for name, nv := range next.Data {
		pv, ok := prev.Data[name]
		if !ok || fmt.Sprint(pv) != fmt.Sprint(nv) {
			changed[name] = true
		}
	}
	for _, q := range telemetry.Quantities {
		pv, pok := prev.Readings.Get(q)
		nv, nok := next.Readings.Get(q)
		if nok && (!pok || pv != nv) {
			changed[q.Name] = true
		}
	}
	return changed
}
