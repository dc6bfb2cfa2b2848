package session

import "fmt"

// Phase is a stage of a session's lifecycle
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhasePinging      Phase = "pinging"
	PhaseDownloading  Phase = "downloading"
	PhaseUploading    Phase = "uploading"
	PhaseRecording    Phase = "recording" // Continuous only: between iterations
	PhaseAnalyzing    Phase = "analyzing" // Continuous only: duration elapsed, awaiting summary
	PhaseComplete     Phase = "complete"
	PhaseError        Phase = "error"
	PhaseStopped      Phase = "stopped"
)

// Phases lists every phase in lifecycle order
var Phases = []Phase{
	PhaseIdle,
	PhaseInitializing,
	PhasePinging,
	PhaseDownloading,
	PhaseUploading,
	PhaseRecording,
	PhaseAnalyzing,
	PhaseComplete,
	PhaseError,
	PhaseStopped,
}

// Terminal reports whether no further events are accepted in this phase
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseStopped
}

// Running reports whether a session is in progress
func (p Phase) Running() bool {
	return p != PhaseIdle && !p.Terminal()
}

// Mode selects between a single test and a timed stability run
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeContinuous Mode = "continuous"
)

// ParseMode converts a string to a Mode. An empty string means single.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSingle:
		return ModeSingle, nil
	case ModeContinuous:
		return ModeContinuous, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Config describes the session to start
type Config struct {
	SessionID       string `json:"session_id,omitempty"` // Generated when empty
	Mode            Mode   `json:"mode"`
	DurationMinutes int    `json:"duration_minutes,omitempty"` // Continuous only
	ServerID        string `json:"server_id,omitempty"`        // Empty selects automatically
}

// Validate checks the configuration without modifying it
func (c Config) Validate() error {
	mode, err := ParseMode(string(c.Mode))
	if err != nil {
		return &InvalidConfigError{Field: "mode", Reason: err.Error()}
	}
	if mode == ModeContinuous && c.DurationMinutes <= 0 {
		return &InvalidConfigError{Field: "duration_minutes", Reason: "continuous mode requires a positive duration"}
	}
	if c.DurationMinutes < 0 {
		return &InvalidConfigError{Field: "duration_minutes", Reason: "must not be negative"}
	}
	return nil
}
