package ui

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muurk/greehp/internal/poller"
	"github.com/muurk/greehp/internal/protocol"
	"github.com/muurk/greehp/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(fields map[string]string) poller.Snapshot {
	data := protocol.FieldMap{}
	for k, v := range fields {
		data[k] = json.Number(v)
	}
	return poller.Snapshot{
		Device:    "garage",
		Host:      "192.0.2.40",
		MAC:       "c8f742aabbcc",
		Data:      data,
		Readings:  telemetry.Derive(data),
		Available: len(data) > 0,
		At:        time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC),
	}
}

func TestDiff(t *testing.T) {
	prev := snapshot(map[string]string{"Pow": "1", "Mod": "1", "AllInWatTemHi": "125", "AllInWatTemLo": "3"})
	next := snapshot(map[string]string{"Pow": "1", "Mod": "4", "AllInWatTemHi": "125", "AllInWatTemLo": "7", "TemUn": "0"})

	got := Diff(prev, next)

	assert.Equal(t, map[string]bool{
		"Mod":           true,
		"AllInWatTemLo": true,
		"TemUn":         true,
		"water_in":      true,
	}, got)
}

func TestDiffFromEmpty(t *testing.T) {
	next := snapshot(map[string]string{"Pow": "1"})

	assert.Empty(t, Diff(snapshot(nil), next))
}

func TestStatusViewRender(t *testing.T) {
	snap := snapshot(map[string]string{
		"Pow":            "1",
		"Mod":            "2",
		"HeWatOutTemSet": "45",
		"WatBoxTemHi":    "148",
		"WatBoxTemLo":    "2",
	})

	out := StatusView{Snapshot: snap, Changed: map[string]bool{"tank": true}, Width: 80}.Render()

	assert.Contains(t, out, "ON")
	assert.Contains(t, out, "Hot water (2)")
	assert.Contains(t, out, "45 °C")
	assert.Contains(t, out, "48.2 °C")
	assert.Contains(t, out, ChangedMarker)
	assert.Contains(t, out, unavailable, "cold set point was not reported")
	assert.Contains(t, out, "c8f742aabbcc")
	assert.NotContains(t, out, "Fields")

	raw := StatusView{Snapshot: snap, ShowRaw: true, Width: 80}.Render()
	assert.Contains(t, raw, "WatBoxTemHi")
}

func TestStatusViewUnreachable(t *testing.T) {
	out := StatusView{Snapshot: snapshot(nil), Width: 80}.Render()

	assert.Contains(t, out, "unreachable")
	assert.Equal(t, 1+len(protocol.TemperatureKinds)+1+len(telemetry.Quantities), strings.Count(out, unavailable))
}

func TestStatusViewRebinding(t *testing.T) {
	snap := snapshot(map[string]string{"Pow": "0"})
	snap.Rebinding = true
	snap.Recovering = true
	snap.RetryCount = 2

	out := StatusView{Snapshot: snap, Width: 80}.Render()

	assert.Contains(t, out, "OFF")
	assert.Contains(t, out, "rebinding (attempt 2)")
}

func TestMonitorModelUpdate(t *testing.T) {
	updates := make(chan poller.Snapshot, 1)
	refreshed := 0
	m := NewMonitorModel("garage", updates, func() { refreshed++ })

	assert.Contains(t, m.View(), "Waiting for the first poll")

	next, cmd := m.Update(snapshotMsg(snapshot(map[string]string{"Pow": "1", "Mod": "1"})))
	m = next.(MonitorModel)
	require.NotNil(t, cmd)
	assert.Equal(t, 1, m.polls)
	assert.Empty(t, m.changed)

	next, _ = m.Update(snapshotMsg(snapshot(map[string]string{"Pow": "0", "Mod": "1"})))
	m = next.(MonitorModel)
	assert.Equal(t, 2, m.polls)
	assert.Equal(t, map[string]bool{"Pow": true}, m.changed)
	assert.Contains(t, m.View(), "1 changed")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	m = next.(MonitorModel)
	assert.Equal(t, 1, refreshed)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("f")})
	m = next.(MonitorModel)
	assert.True(t, m.showRaw)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestMonitorModelQuitsWhenUpdatesClose(t *testing.T) {
	updates := make(chan poller.Snapshot)
	close(updates)
	m := NewMonitorModel("garage", updates, nil)

	msg := waitForSnapshot(updates)()
	assert.IsType(t, updatesClosedMsg{}, msg)

	_, cmd := m.Update(msg)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestResultRender(t *testing.T) {
	ok := NewSuccessResult("Temperature set", Param{Key: "Hot water", Value: "45 °C"})
	ok.Width = 80
	out := ok.Render()
	assert.Contains(t, out, "SUCCESS")
	assert.Contains(t, out, "45 °C")

	err := protocol.NewTransportError("receive", "no reply", nil)
	failed := NewFailureResult("Command failed", err)
	failed.Width = 80
	out = failed.Render()
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "Network error")
	assert.Contains(t, out, "Troubleshooting")

	plain := NewFailureResult("Command failed", errors.New("boom"))
	assert.Empty(t, plain.Hint)
}

func TestHeaderRender(t *testing.T) {
	h := NewHeader("Set mode", "greehp set-mode 4", Param{Key: "Device", Value: "garage"}, Param{Key: "Mode", Value: "Heat + Hot water"})
	out := h.SetWidth(80).Render()

	assert.Contains(t, out, "SET MODE")
	assert.Contains(t, out, "greehp set-mode 4")
	assert.Less(t, strings.Index(out, "Device"), strings.Index(out, "Mode:"))
}

func TestPrinterJSON(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatJSON)

	p.PrintHeader(NewHeader("ignored", "greehp status"))
	require.NoError(t, p.PrintResult(NewSuccessResult("ignored"), map[string]bool{"ok": true}))

	assert.JSONEq(t, `{"ok": true}`, buf.String())
}

func TestPrinterTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, "")

	require.NoError(t, p.PrintStatus(StatusView{Snapshot: snapshot(map[string]string{"Pow": "1"})}, nil))
	assert.Contains(t, buf.String(), "Control")
	assert.False(t, p.JSON())
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, ValidateFormat("table"))
	assert.NoError(t, ValidateFormat("json"))
	assert.Error(t, ValidateFormat("yaml"))
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "y\n", want: true},
		{input: "YES\n", want: true},
		{input: "n\n", want: false},
		{input: "\n", want: false},
		{input: "", want: false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		got := Confirm(strings.NewReader(tt.input), &out, "Remove device", []string{"garage will be forgotten"}, "Continue?")
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Contains(t, out.String(), "garage will be forgotten")
	}
}
