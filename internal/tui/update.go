package tui

import (
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wellsgz/speedpulse/internal/session"
	"github.com/wellsgz/speedpulse/internal/storage"
)

// errDisconnected is reported when the snapshot stream ends
var errDisconnected = errors.New("connection to session lost")

// Message types
type (
	// SnapshotMsg is a pushed snapshot from the backend
	SnapshotMsg session.Snapshot

	// RefreshMsg is a snapshot fetched on demand
	RefreshMsg session.Snapshot

	// StartedMsg is sent when the backend accepted a start request
	StartedMsg struct{ SessionID string }

	// StoppedMsg is sent when the backend stopped the session
	StoppedMsg struct{}

	// DisconnectedMsg is sent when the snapshot stream closes
	DisconnectedMsg struct{}

	// TickMsg is sent every second so elapsed time keeps moving
	TickMsg time.Time

	// ErrMsg is sent when an error occurs
	ErrMsg struct{ Err error }
)

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		return m, nil

	case SnapshotMsg:
		m.snap = session.Snapshot(msg)
		return m, waitForSnapshot(m.updates)

	case RefreshMsg:
		m.snap = session.Snapshot(msg)
		return m, nil

	case StartedMsg:
		m.err = nil
		return m, nil

	case StoppedMsg:
		m.err = nil
		return m, fetchSnapshot(m.backend)

	case DisconnectedMsg:
		m.err = errDisconnected
		return m, nil

	case TickMsg:
		return m, tick()

	case ErrMsg:
		m.err = msg.Err
		return m, nil
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "s":
		return m, startSession(m.backend, m.startConfig(session.ModeSingle))

	case "c":
		return m, startSession(m.backend, m.startConfig(session.ModeContinuous))

	case "x", "esc":
		if m.snap.Phase.Running() {
			return m, stopSession(m.backend)
		}

	case "+", "=":
		if m.durationIdx < len(m.durations)-1 {
			m.durationIdx++
		}

	case "-", "_":
		if m.durationIdx > 0 {
			m.durationIdx--
		}

	case "up", "k":
		if m.selectedIdx > 0 {
			m.selectedIdx--
		}

	case "down", "j":
		if m.selectedIdx < len(storage.Kinds)-1 {
			m.selectedIdx++
		}

	case "r":
		return m, fetchSnapshot(m.backend)
	}

	return m, nil
}

// waitForSnapshot creates a command that waits for the next pushed snapshot
func waitForSnapshot(ch <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return DisconnectedMsg{}
		}
		return SnapshotMsg(snap)
	}
}

// fetchSnapshot creates a command that reads the current snapshot
func fetchSnapshot(b Backend) tea.Cmd {
	return func() tea.Msg {
		snap, err := b.Snapshot()
		if err != nil {
			return ErrMsg{Err: err}
		}
		return RefreshMsg(snap)
	}
}

// startSession creates a command that starts a session
func startSession(b Backend, cfg session.Config) tea.Cmd {
	return func() tea.Msg {
		id, err := b.Start(cfg)
		if err != nil {
			return ErrMsg{Err: err}
		}
		return StartedMsg{SessionID: id}
	}
}

// stopSession creates a command that stops the running session
func stopSession(b Backend) tea.Cmd {
	return func() tea.Msg {
		if err := b.Stop(); err != nil {
			return ErrMsg{Err: err}
		}
		return StoppedMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
