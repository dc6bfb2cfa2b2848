package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/wellsgz/speedpulse/internal/ipc"
	"github.com/wellsgz/speedpulse/internal/logging"
	"github.com/wellsgz/speedpulse/internal/tui"
)

// tuiFlags preselect the next test in the terminal UI
type tuiFlags struct {
	duration int
	serverID string
}

func bindTUIFlags(cmd *cobra.Command, tf *tuiFlags) {
	cmd.Flags().IntVarP(&tf.duration, "duration", "d", 0, "preselected continuous test length in minutes")
	cmd.Flags().StringVarP(&tf.serverID, "server", "s", "", "speedtest.net server ID (default: lowest latency nearby)")
}

func newTUICmd(flags *globalFlags) *cobra.Command {
	tf := &tuiFlags{}

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(flags, tf)
		},
	}

	bindTUIFlags(cmd, tf)
	return cmd
}

// runTUI attaches to the daemon when its socket exists and runs standalone otherwise
func runTUI(flags *globalFlags, tf *tuiFlags) error {
	env, err := flags.load()
	if err != nil {
		return err
	}
	cfg := env.cfg

	opts := tui.Options{
		DurationMinutes: cfg.Session.DurationMinutes,
		DurationOptions: cfg.Producer.DurationOptions,
		ServerID:        cfg.Session.ServerID,
	}
	if tf.duration > 0 {
		opts.DurationMinutes = tf.duration
	}
	if tf.serverID != "" {
		opts.ServerID = tf.serverID
	}

	if env.socketExists() {
		client, err := ipc.Connect(env.socketPath())
		if err == nil {
			defer client.Close()
			opts.Source = env.socketPath()
			return tui.RunWithIPC(client, opts)
		}
		logging.Warn("Main", "Daemon socket present but not answering, running standalone", map[string]any{
			"socket": env.socketPath(),
			"error":  err.Error(),
		})
	}

	// Log output would corrupt the alternate screen
	logging.SetWriter(io.Discard)

	prod := newProducer(cfg)
	defer prod.Stop()

	machine := newMachine(cfg, prod, nil)
	defer machine.Close()

	return tui.Run(machine, opts)
}
