package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wellsgz/speedpulse/internal/ipc"
	"github.com/wellsgz/speedpulse/internal/session"
)

// Init initializes the model and returns initial commands
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchSnapshot(m.backend),
		waitForSnapshot(m.updates),
		tick(),
	)
}

// Run starts the TUI application over an in-process state machine
func Run(machine *session.Machine, opts Options) error {
	backend := NewLocalBackend(machine)
	defer backend.Close()

	if opts.Source == "" {
		opts.Source = "standalone"
	}
	return run(NewModel(backend, opts))
}

// RunWithIPC starts the TUI application connected to a daemon via IPC
func RunWithIPC(client *ipc.Client, opts Options) error {
	if err := client.Subscribe(); err != nil {
		return fmt.Errorf("failed to subscribe to session updates: %w", err)
	}
	return run(NewModel(NewIPCBackend(client), opts))
}

func run(model Model) error {
	p := tea.NewProgram(
		model,
		tea.WithAltScreen(), // Use alternate screen buffer
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
