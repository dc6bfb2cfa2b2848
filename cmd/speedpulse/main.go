// Command speedpulse runs internet speed and stability tests from a terminal UI,
// a foreground CLI run, or a daemon serving REST, WebSocket, IPC and metrics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wellsgz/speedpulse/internal/config"
	"github.com/wellsgz/speedpulse/internal/logging"
	"github.com/wellsgz/speedpulse/internal/paths"
	"github.com/wellsgz/speedpulse/internal/producer"
	"github.com/wellsgz/speedpulse/internal/session"
	"github.com/wellsgz/speedpulse/internal/stability"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	tuiOpts := &tuiFlags{}

	root := &cobra.Command{
		Use:   "speedpulse",
		Short: "Internet speed and stability tester",
		Long: `speedpulse measures ping, download and upload against speedtest.net servers.

Without a subcommand it opens the terminal UI, attached to a running daemon
when its socket exists and standalone otherwise.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(flags, tuiOpts)
		},
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default: per-user location when present)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format: text or json")
	bindTUIFlags(root, tuiOpts)

	root.AddCommand(
		newServeCmd(flags),
		newRunCmd(flags),
		newTUICmd(flags),
		newServersCmd(flags),
		newStatusCmd(flags),
		newQualityCmd(),
		newReplayCmd(flags),
	)

	return root
}

// environment is the resolved configuration shared by the subcommands
type environment struct {
	cfg            *config.Config
	paths          *paths.Paths
	explicitConfig bool // --config was given
}

// socketPath returns the configured IPC socket, or the per-user default
func (e *environment) socketPath() string {
	if e.cfg.Server.Socket != "" {
		return e.cfg.Server.Socket
	}
	return e.paths.SocketPath
}

// socketExists reports whether a daemon socket is present
func (e *environment) socketExists() bool {
	_, err := os.Stat(e.socketPath())
	return err == nil
}

// load resolves paths, reads configuration and applies logging flags
func (f *globalFlags) load() (*environment, error) {
	p, err := paths.DefaultPaths()
	if err != nil {
		return nil, err
	}

	configPath := f.configPath
	if configPath == "" && p.ConfigExists() {
		configPath = p.ConfigFile
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Setup(logging.Format(cfg.Logging.Format), cfg.Logging.Level, nil)

	return &environment{cfg: cfg, paths: p, explicitConfig: f.configPath != ""}, nil
}

// newProducer builds the speedtest.net producer from configuration
func newProducer(cfg *config.Config) *producer.Producer {
	opts := producer.SpeedtestOptions{
		SavingMode:     cfg.Producer.SavingMode,
		MaxConnections: cfg.Producer.MaxConnections,
	}
	switch cfg.Producer.Latency {
	case "icmp":
		opts.Sampler = producer.NewICMPSampler(cfg.Producer.Pings, cfg.Producer.Timeout)
	case "tcp":
		opts.Sampler = producer.NewTCPSampler(cfg.Producer.Pings, cfg.Producer.Timeout)
	}

	return producer.New(producer.NewSpeedtestMeasurer(opts), producer.Options{
		ServerCount:         cfg.Producer.ServerCount,
		IterationInterval:   cfg.Producer.IterationInterval,
		Timeout:             cfg.Producer.Timeout,
		IterationsPerMinute: cfg.Session.IterationsPerMinute,
	})
}

// newMachine builds the session state machine from configuration
func newMachine(cfg *config.Config, p session.Producer, rec session.Recorder) *session.Machine {
	return session.NewMachine(p, session.Options{
		BufferSize:          cfg.Session.BufferSize,
		IterationsPerMinute: cfg.Session.IterationsPerMinute,
		Strict:              cfg.Session.Strict,
		Scorer:              stability.BucketScore,
		Recorder:            rec,
	})
}

// sessionConfig builds a start request, falling back to configured defaults
func sessionConfig(cfg *config.Config, mode string, duration int, serverID string) (session.Config, error) {
	if mode == "" {
		mode = cfg.Session.Mode
	}
	m, err := session.ParseMode(mode)
	if err != nil {
		return session.Config{}, err
	}
	if duration == 0 {
		duration = cfg.Session.DurationMinutes
	}
	if serverID == "" {
		serverID = cfg.Session.ServerID
	}

	sc := session.Config{Mode: m, ServerID: serverID}
	if m == session.ModeContinuous {
		sc.DurationMinutes = duration
	}
	return sc, nil
}
