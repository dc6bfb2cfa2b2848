package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wellsgz/speedpulse/internal/protocol"
	"github.com/wellsgz/speedpulse/internal/session"
)

// runFlags select the session started by run
type runFlags struct {
	mode     string
	duration int
	serverID string
	record   string
	jsonOut  bool
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	rf := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a test in the foreground and print the result",
		Example: `  speedpulse run
  speedpulse run --mode continuous --duration 15
  speedpulse run --server 12345 --record run.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := flags.load()
			if err != nil {
				return err
			}
			sc, err := sessionConfig(env.cfg, rf.mode, rf.duration, rf.serverID)
			if err != nil {
				return err
			}

			prod := newProducer(env.cfg)
			defer prod.Stop()

			var sp session.Producer = prod
			var recording *protocol.Encoder
			if rf.record != "" {
				f, err := os.Create(rf.record)
				if err != nil {
					return fmt.Errorf("failed to create recording: %w", err)
				}
				defer f.Close()
				recording = protocol.NewEncoder(f)
				sp = &recordingProducer{Producer: prod, enc: recording}
			}

			machine := newMachine(env.cfg, sp, nil)
			defer machine.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			printer := &progressPrinter{w: out, quiet: rf.jsonOut}
			snap, err := runSession(ctx, machine, sc, printer.update)
			if err != nil {
				return err
			}
			if err := report(out, snap, rf.jsonOut); err != nil {
				return err
			}
			if recording != nil && recording.Err() != nil {
				return fmt.Errorf("recording is incomplete: %w", recording.Err())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&rf.mode, "mode", "m", "", "single or continuous (default from session.mode)")
	cmd.Flags().IntVarP(&rf.duration, "duration", "d", 0, "continuous test length in minutes (default from session.duration_minutes)")
	cmd.Flags().StringVarP(&rf.serverID, "server", "s", "", "speedtest.net server ID (default: lowest latency nearby)")
	cmd.Flags().StringVar(&rf.record, "record", "", "write the producer event stream to this file for replay")
	cmd.Flags().BoolVar(&rf.jsonOut, "json", false, "print the final snapshot as JSON")
	return cmd
}

func newReplayCmd(flags *globalFlags) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Feed a recorded event stream through the state machine and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := flags.load()
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			machine := newMachine(env.cfg, nil, nil)
			defer machine.Close()

			snap, err := replay(f, machine)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), snap, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the final snapshot as JSON")
	return cmd
}

// recordingProducer copies every message to enc before the machine sees it.
// The begin request is written first so a replay can start the same session.
type recordingProducer struct {
	session.Producer
	enc *protocol.Encoder
}

func (r *recordingProducer) Begin(req protocol.BeginSession, sink protocol.Sink) error {
	begin, err := protocol.NewEnvelope(protocol.MsgBeginSession, req.SessionID, req)
	if err != nil {
		return err
	}
	if err := r.enc.Encode(begin); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}

	return r.Producer.Begin(req, protocol.SinkFunc(func(env protocol.Envelope) {
		r.enc.Deliver(env)
		sink.Deliver(env)
	}))
}

// replay starts a session for every begin_session record and delivers the rest
func replay(r io.Reader, machine *session.Machine) (session.Snapshot, error) {
	var startErr error
	n, err := protocol.Replay(r, protocol.SinkFunc(func(env protocol.Envelope) {
		if env.Type != protocol.MsgBeginSession {
			machine.Deliver(env)
			return
		}

		var req protocol.BeginSession
		if err := env.Decode(&req); err != nil {
			startErr = err
			return
		}
		_, startErr = machine.Start(session.Config{
			SessionID:       req.SessionID,
			Mode:            session.Mode(req.Mode),
			DurationMinutes: req.DurationMinutes,
			ServerID:        req.ServerID,
		})
	}))
	if err != nil {
		return machine.Snapshot(), err
	}
	if startErr != nil {
		return machine.Snapshot(), startErr
	}
	if n == 0 {
		return machine.Snapshot(), errors.New("recording is empty")
	}
	return machine.Snapshot(), nil
}

// runSession starts cfg and reports every snapshot to onUpdate until the
// session ends or ctx is cancelled, which stops it
func runSession(ctx context.Context, machine *session.Machine, cfg session.Config, onUpdate func(session.Snapshot)) (session.Snapshot, error) {
	updates := machine.Subscribe()
	defer machine.Unsubscribe(updates)

	id, err := machine.Start(cfg)
	if err != nil {
		return machine.Snapshot(), err
	}

	// Subscribers may miss snapshots when behind, so poll for the end as well
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if machine.Phase().Running() {
				if err := machine.Stop(); err != nil && !errors.Is(err, session.ErrNotRunning) {
					return machine.Snapshot(), err
				}
			}
			return machine.Snapshot(), nil

		case snap, ok := <-updates:
			if !ok {
				return machine.Snapshot(), nil
			}
			if snap.SessionID != id {
				continue
			}
			onUpdate(snap)
			if snap.Phase.Terminal() {
				return snap, nil
			}

		case <-ticker.C:
			if snap := machine.Snapshot(); snap.Phase.Terminal() {
				return snap, nil
			}
		}
	}
}

// progressPrinter writes one line per phase change and per completed iteration
type progressPrinter struct {
	w          io.Writer
	quiet      bool
	phase      session.Phase
	iterations int
}

func (p *progressPrinter) update(snap session.Snapshot) {
	if p.quiet {
		return
	}

	if snap.Phase != p.phase {
		p.phase = snap.Phase
		line := string(snap.Phase)
		if snap.Message != "" {
			line += ": " + snap.Message
		}
		fmt.Fprintln(p.w, line)
	}

	for ; p.iterations < len(snap.Iterations); p.iterations++ {
		it := snap.Iterations[p.iterations]
		fmt.Fprintf(p.w, "  #%-3d %8.2f Mbps down  %8.2f Mbps up  %6.1f ms\n", it.Index, it.Download, it.Upload, it.Ping)
	}
}

// report prints the outcome of a session. A failed session is returned as an error after printing.
func report(w io.Writer, snap session.Snapshot, jsonOut bool) error {
	if jsonOut {
		if err := writeJSON(w, snap); err != nil {
			return err
		}
	} else {
		printReport(w, snap)
	}

	if snap.Phase == session.PhaseError {
		return errors.New(snap.Error)
	}
	return nil
}

func printReport(w io.Writer, snap session.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "\nSession\t%s (%s)\n", snap.SessionID, snap.Phase)
	if s := snap.Server; s != nil {
		fmt.Fprintf(tw, "Server\t%s, %s, %s (%.1f km)\n", s.Name, s.Location, s.Country, s.DistanceKm)
	}
	if c := snap.Client; c != nil {
		fmt.Fprintf(tw, "Client\t%s (%s)\n", c.IP, c.ISP)
	}
	fmt.Fprintf(tw, "Elapsed\t%s\n", snap.Elapsed(time.Now()).Round(time.Second))
	if snap.Error != "" {
		fmt.Fprintf(tw, "Error\t%s\n", snap.Error)
	}

	if r := snap.FinalResult; r != nil && snap.Mode == session.ModeSingle {
		fmt.Fprintf(tw, "Download\t%.2f Mbps\n", r.Download)
		fmt.Fprintf(tw, "Upload\t%.2f Mbps\n", r.Upload)
		fmt.Fprintf(tw, "Ping\t%.1f ms\n", r.Ping)
		fmt.Fprintf(tw, "Jitter\t%.1f ms\n", r.Jitter)
	}
	if q := snap.Quality; q != nil {
		fmt.Fprintf(tw, "Quality\t%s\n", q.Rating)
		for _, rec := range q.Recommendations {
			fmt.Fprintf(tw, "\t- %s\n", rec)
		}
	}

	if snap.Mode != session.ModeContinuous {
		return
	}

	if s := snap.Summary; s != nil {
		fmt.Fprintf(tw, "\nMetric\tAvg\tMin\tMax\n")
		fmt.Fprintf(tw, "Download\t%.2f\t%.2f\t%.2f\n", s.AvgDownload, s.MinDownload, s.MaxDownload)
		fmt.Fprintf(tw, "Upload\t%.2f\t%.2f\t%.2f\n", s.AvgUpload, s.MinUpload, s.MaxUpload)
		fmt.Fprintf(tw, "Ping\t%.1f\t%.1f\t%.1f\n", s.AvgPing, s.MinPing, s.MaxPing)
		if s.StabilityScore != nil {
			fmt.Fprintf(tw, "Stability\t%.0f%% over %d tests in %d min\n", *s.StabilityScore, s.TestCount, s.Duration)
		}
	} else {
		fmt.Fprintf(tw, "Iterations\t%d\n", len(snap.Iterations))
	}
	if c := snap.Consistency; c != nil {
		fmt.Fprintf(tw, "Consistency\t%.0f%% down, %.0f%% up, %.0f%% ping\n", c.Download, c.Upload, c.Ping)
	}

	if len(snap.MinuteBuckets) > 0 {
		fmt.Fprintf(tw, "\nMinute\tTests\tDownload\tUpload\tPing\tRating\n")
		for _, b := range snap.MinuteBuckets {
			fmt.Fprintf(tw, "%d\t%d\t%.2f\t%.2f\t%.1f\t%s\n", b.Minute, b.Tests, b.Download.Avg, b.Upload.Avg, b.Ping.Avg, b.Rating)
		}
	}
}
