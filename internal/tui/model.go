package tui

import (
	"sort"
	"time"

	"github.com/wellsgz/speedpulse/internal/ipc"
	"github.com/wellsgz/speedpulse/internal/session"
	"github.com/wellsgz/speedpulse/internal/storage"
)

// Backend is the session the TUI drives, either in-process or behind the daemon socket
type Backend interface {
	Start(cfg session.Config) (string, error)
	Stop() error
	Snapshot() (session.Snapshot, error)
	// Updates delivers a snapshot after every state change. It is closed when the backend goes away.
	Updates() <-chan session.Snapshot
	Close()
}

// localBackend drives an in-process state machine
type localBackend struct {
	machine *session.Machine
	updates <-chan session.Snapshot
}

// NewLocalBackend wraps a state machine running in this process
func NewLocalBackend(machine *session.Machine) Backend {
	return &localBackend{machine: machine, updates: machine.Subscribe()}
}

func (b *localBackend) Start(cfg session.Config) (string, error) { return b.machine.Start(cfg) }
func (b *localBackend) Stop() error                              { return b.machine.Stop() }
func (b *localBackend) Snapshot() (session.Snapshot, error)      { return b.machine.Snapshot(), nil }
func (b *localBackend) Updates() <-chan session.Snapshot         { return b.updates }
func (b *localBackend) Close()                                   { b.machine.Unsubscribe(b.updates) }

// ipcBackend drives the daemon's state machine over its socket
type ipcBackend struct {
	client *ipc.Client
}

// NewIPCBackend wraps a subscribed daemon connection
func NewIPCBackend(client *ipc.Client) Backend {
	return &ipcBackend{client: client}
}

func (b *ipcBackend) Start(cfg session.Config) (string, error) {
	return b.client.Start(ipc.StartRequest{
		Mode:            string(cfg.Mode),
		DurationMinutes: cfg.DurationMinutes,
		ServerID:        cfg.ServerID,
	})
}

func (b *ipcBackend) Stop() error                         { return b.client.Stop() }
func (b *ipcBackend) Snapshot() (session.Snapshot, error) { return b.client.Snapshot() }
func (b *ipcBackend) Updates() <-chan session.Snapshot    { return b.client.Snapshots() }
func (b *ipcBackend) Close()                              { b.client.Close() }

// Options configures a Model
type Options struct {
	DurationMinutes int   // Initially selected continuous duration
	DurationOptions []int // Durations cycled with +/-
	ServerID        string
	Source          string // Shown in the header, e.g. "standalone" or the socket path
	Clock           func() time.Time
}

// Model holds all application state
type Model struct {
	backend Backend
	updates <-chan session.Snapshot
	snap    session.Snapshot

	// Selection for the next start
	durations   []int
	durationIdx int
	serverID    string

	// Metric shown in the iteration graph
	selectedIdx int

	source string
	clock  func() time.Time

	// UI state
	width  int
	height int
	ready  bool

	err error
}

// NewModel creates a Model over the given backend
func NewModel(backend Backend, opts Options) Model {
	durations, idx := durationChoices(opts.DurationOptions, opts.DurationMinutes)
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return Model{
		backend:     backend,
		updates:     backend.Updates(),
		snap:        session.Snapshot{Phase: session.PhaseIdle},
		durations:   durations,
		durationIdx: idx,
		serverID:    opts.ServerID,
		source:      opts.Source,
		clock:       clock,
	}
}

// durationChoices returns the sorted, de-duplicated options including the
// initial duration, and the index of the initial duration
func durationChoices(options []int, initial int) ([]int, int) {
	seen := make(map[int]bool)
	var out []int
	for _, d := range append(append([]int(nil), options...), initial) {
		if d > 0 && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		out = []int{5}
	}
	sort.Ints(out)

	for i, d := range out {
		if d == initial {
			return out, i
		}
	}
	return out, 0
}

// Snapshot returns the last snapshot received
func (m Model) Snapshot() session.Snapshot {
	return m.snap
}

// Duration returns the continuous duration selected for the next start
func (m Model) Duration() int {
	return m.durations[m.durationIdx]
}

// SelectedKind returns the metric highlighted in the table
func (m Model) SelectedKind() storage.Kind {
	return storage.Kinds[m.selectedIdx]
}

// startConfig builds the session request for mode from the current selection
func (m Model) startConfig(mode session.Mode) session.Config {
	cfg := session.Config{Mode: mode, ServerID: m.serverID}
	if mode == session.ModeContinuous {
		cfg.DurationMinutes = m.Duration()
	}
	return cfg
}
