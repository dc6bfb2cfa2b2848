package paths

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

// Paths holds the resolved paths for config and socket
type Paths struct {
	ConfigFile string
	SocketPath string
}

// DefaultPaths returns the default paths based on current user
// Root user: /etc/speedpulse/, /var/run/speedpulse/
// Non-root: ~/.speedpulse/config/, ~/.speedpulse/
func DefaultPaths() (*Paths, error) {
	if os.Geteuid() == 0 {
		return &Paths{
			ConfigFile: "/etc/speedpulse/config.yaml",
			SocketPath: "/var/run/speedpulse/speedpulse.sock",
		}, nil
	}

	usr, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	return ForBase(filepath.Join(usr.HomeDir, ".speedpulse")), nil
}

// ForBase returns the layout rooted at baseDir
func ForBase(baseDir string) *Paths {
	return &Paths{
		ConfigFile: filepath.Join(baseDir, "config", "config.yaml"),
		SocketPath: filepath.Join(baseDir, "speedpulse.sock"),
	}
}

// EnsureDirectories creates all necessary directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(p.ConfigFile),
		filepath.Dir(p.SocketPath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ConfigExists checks if the config file exists
func (p *Paths) ConfigExists() bool {
	_, err := os.Stat(p.ConfigFile)
	return err == nil
}

// SocketExists checks if the socket file exists
func (p *Paths) SocketExists() bool {
	_, err := os.Stat(p.SocketPath)
	return err == nil
}

// RemoveSocket removes the socket file if it exists
func (p *Paths) RemoveSocket() error {
	if p.SocketExists() {
		return os.Remove(p.SocketPath)
	}
	return nil
}

// String returns a human-readable representation of the paths
func (p *Paths) String() string {
	return fmt.Sprintf("Config: %s, Socket: %s", p.ConfigFile, p.SocketPath)
}

// CreateDefaultConfig creates a default config file with sample content
// Returns true if a new config was created, false if it already existed
func (p *Paths) CreateDefaultConfig() (bool, error) {
	if p.ConfigExists() {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(p.ConfigFile), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	defaultConfig := `# SpeedPulse Configuration

server:
  address: ":8080"
  enable_metrics: true

session:
  buffer_size: 50          # samples per metric on live charts
  compact_buffer_size: 30  # samples per metric on compact charts
  iterations_per_minute: 12
  strict: false            # true rejects out-of-phase producer events
  mode: single             # single or continuous
  duration_minutes: 5      # continuous mode only
  # server_id: "12345"     # empty picks the lowest-latency nearby server

producer:
  latency: http            # http (speedtest), icmp or tcp
  pings: 10
  server_count: 5
  max_connections: 4
  saving_mode: false
  iteration_interval: 5s
  timeout: 2m
  duration_options: [5, 15, 30, 60]

logging:
  level: info
  format: text
`
	if err := os.WriteFile(p.ConfigFile, []byte(defaultConfig), 0644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}

	return true, nil
}
