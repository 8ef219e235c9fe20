package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muurk/greehp/internal/poller"
)

// snapshotMsg carries one poll result into the model
type snapshotMsg poller.Snapshot

// updatesClosedMsg signals that the snapshot channel was closed
type updatesClosedMsg struct{}

type monitorKeyMap struct {
	Refresh key.Binding
	Raw     key.Binding
	Quit    key.Binding
}

// ShortHelp returns keybindings for the short help view
func (k monitorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Raw, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k monitorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Refresh, k.Raw, k.Quit}}
}

// MonitorModel is a live view of one heat pump. Values that changed since
// the previous poll are highlighted.
type MonitorModel struct {
	Device  string
	Spinner spinner.Model
	Help    help.Model
	Keys    monitorKeyMap

	updates <-chan poller.Snapshot
	refresh func()

	snap    poller.Snapshot
	hasSnap bool
	changed map[string]bool
	showRaw bool
	polls   int
	width   int
}

// NewMonitorModel creates a monitor fed by updates. refresh, if set, is
// called when the user asks for an immediate poll.
func NewMonitorModel(device string, updates <-chan poller.Snapshot, refresh func()) MonitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return MonitorModel{
		Device:  device,
		Spinner: s,
		Help:    help.New(),
		Keys: monitorKeyMap{
			Refresh: key.NewBinding(
				key.WithKeys("r"),
				key.WithHelp("r", "refresh"),
			),
			Raw: key.NewBinding(
				key.WithKeys("f"),
				key.WithHelp("f", "raw fields"),
			),
			Quit: key.NewBinding(
				key.WithKeys("q", "ctrl+c", "esc"),
				key.WithHelp("q", "quit"),
			),
		},
		updates: updates,
		refresh: refresh,
		changed: map[string]bool{},
		width:   GetTerminalWidth(),
	}
}

func waitForSnapshot(updates <-chan poller.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return updatesClosedMsg{}
		}
		return snapshotMsg(snap)
	}
}

// Init implements tea.Model
func (m MonitorModel) Init() tea.Cmd {
	return tea.Batch(m.Spinner.Tick, waitForSnapshot(m.updates))
}

// Update implements tea.Model
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.Keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.Keys.Refresh):
			if m.refresh != nil {
				m.refresh()
			}
			return m, nil
		case key.Matches(msg, m.Keys.Raw):
			m.showRaw = !m.showRaw
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = clampWidth(msg.Width)
		m.Help.Width = m.width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		snap := poller.Snapshot(msg)
		if m.hasSnap {
			m.changed = Diff(m.snap, snap)
		}
		m.snap = snap
		m.hasSnap = true
		m.polls++
		return m, waitForSnapshot(m.updates)

	case updatesClosedMsg:
		return m, tea.Quit
	}

	return m, nil
}

// View implements tea.Model
func (m MonitorModel) View() string {
	var b strings.Builder

	b.WriteString(NewHeader("Heat pump monitor", "greehp monitor", Param{Key: "Device", Value: m.Device}).
		SetWidth(m.width).Render())
	b.WriteString("\n")

	if !m.hasSnap {
		fmt.Fprintf(&b, "\n  %s Waiting for the first poll...\n", m.Spinner.View())
	} else {
		b.WriteString(StatusView{Snapshot: m.snap, Changed: m.changed, ShowRaw: m.showRaw, Width: m.width}.Render())
		b.WriteString("\n")
		line := fmt.Sprintf("%s polls: %d", m.Spinner.View(), m.polls)
		if n := len(m.changed); n > 0 {
			line += fmt.Sprintf(" · %d changed", n)
		}
		b.WriteString(StatusLineStyle.Render(line))
		b.WriteString("\n")
	}

	b.WriteString("\n  ")
	b.WriteString(m.Help.View(m.Keys))
	b.WriteString("\n")
	return b.String()
}

// RunMonitor runs the monitor full screen until the user quits or ctx ends
func RunMonitor(ctx context.Context, m MonitorModel) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
