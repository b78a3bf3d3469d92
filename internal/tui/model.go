// Package tui provides the Bubbletea terminal user interface for loudkeep
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/petems/loudkeep/internal/audio"
	"github.com/petems/loudkeep/internal/session"
)

// Controller is the part of the app the terminal UI drives.
type Controller interface {
	Start() error
	Stop(ctx context.Context) error
	IsRecording() bool
	SetThreshold(db float64) float64
	Threshold() audio.Threshold
	RefreshDevices() []audio.DeviceDescriptor
	Devices() []audio.DeviceDescriptor
	SetDevice(index int) (audio.DeviceDescriptor, error)
	Device() audio.DeviceDescriptor
	Format() audio.Format
	Snapshot() session.Snapshot
}

const stopTimeout = 5 * time.Second

// Model is the Bubbletea model for the recorder UI
type Model struct {
	ctrl    Controller
	updates <-chan session.Snapshot

	Snapshot session.Snapshot
	Devices  []audio.DeviceDescriptor
	Device   audio.DeviceDescriptor
	Format   audio.Format
	Message  string
	Err      error

	Width    int
	Quitting bool
}

// NewModel creates a model reading snapshots from updates.
func NewModel(ctrl Controller, updates <-chan session.Snapshot) Model {
	return Model{
		ctrl:     ctrl,
		updates:  updates,
		Snapshot: ctrl.Snapshot(),
		Devices:  ctrl.Devices(),
		Device:   ctrl.Device(),
		Format:   ctrl.Format(),
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return waitForSnapshot(m.updates)
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width

	case SnapshotMsg:
		m.Snapshot = session.Snapshot(msg)
		if !m.Snapshot.Recording {
			m.Format = m.ctrl.Format()
		}
		return m, waitForSnapshot(m.updates)

	case closedMsg:
		return m, nil

	case devicesMsg:
		m.Devices = msg
		m.Device = m.ctrl.Device()
		m.Message = fmt.Sprintf("%d input device(s) available", len(msg))

	case resultMsg:
		m.Message = msg.text
		m.Err = msg.err
		if m.Quitting {
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.Quitting = true
		if m.ctrl.IsRecording() {
			return m, stopCmd(m.ctrl)
		}
		return m, tea.Quit

	case " ", "enter":
		if m.ctrl.IsRecording() {
			m.Message = "Stopping..."
			return m, stopCmd(m.ctrl)
		}
		return m, startCmd(m.ctrl)

	case "up", "+", "=":
		m.Message = fmt.Sprintf("Threshold %.1f dB", m.ctrl.SetThreshold(m.ctrl.Threshold().DB+1))
	case "down", "-":
		m.Message = fmt.Sprintf("Threshold %.1f dB", m.ctrl.SetThreshold(m.ctrl.Threshold().DB-1))

	case "r":
		return m, refreshCmd(m.ctrl)

	case "d":
		next, err := m.ctrl.SetDevice(nextDevice(m.Devices, m.Device))
		if err != nil {
			m.Err = err
			return m, nil
		}
		m.Device = next
		m.Err = nil
		m.Message = "Input: " + next.DisplayName()
	}

	return m, nil
}

// nextDevice returns the index after current in the list, wrapping around.
func nextDevice(devices []audio.DeviceDescriptor, current audio.DeviceDescriptor) int {
	if len(devices) == 0 {
		return audio.DefaultDevice
	}
	for i, d := range devices {
		if d.Index == current.Index {
			return devices[(i+1)%len(devices)].Index
		}
	}
	return devices[0].Index
}

// View renders the UI
func (m Model) View() string {
	if m.Quitting && !m.ctrl.IsRecording() {
		return renderGoodbye(m)
	}
	return renderMainView(m)
}

func waitForSnapshot(updates <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return SnapshotMsg(s)
	}
}

func startCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.Start(); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{text: "Recording started"}
	}
}

func stopCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := ctrl.Stop(ctx); err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{text: "Recording stopped"}
	}
}

func refreshCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		return devicesMsg(ctrl.RefreshDevices())
	}
}

// Run shows the UI until the user quits or ctx is cancelled.
func Run(ctx context.Context, ctrl Controller, updates <-chan session.Snapshot) error {
	p := tea.NewProgram(NewModel(ctrl, updates), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
