package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wellsgz/speedpulse/internal/ipc"
	"github.com/wellsgz/speedpulse/internal/protocol"
	"github.com/wellsgz/speedpulse/internal/quality"
	"github.com/wellsgz/speedpulse/internal/storage"
)

const serversTimeout = 30 * time.Second

func newServersCmd(flags *globalFlags) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List nearby speedtest.net servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := flags.load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), serversTimeout)
			defer cancel()

			var servers []protocol.Server
			if env.socketExists() {
				client, err := ipc.Connect(env.socketPath())
				if err != nil {
					return err
				}
				defer client.Close()
				servers, err = client.Servers(ctx)
				if err != nil {
					return err
				}
			} else {
				prod := newProducer(env.cfg)
				defer prod.Stop()
				servers, err = prod.Servers(ctx)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, protocol.ServerList{Servers: servers})
			}
			printServers(out, servers)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}

func printServers(w io.Writer, servers []protocol.Server) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tName\tLocation\tCountry\tDistance")
	for _, s := range servers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f km\n", s.ID, s.Name, s.Location, s.Country, s.DistanceKm)
	}
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := flags.load()
			if err != nil {
				return err
			}
			if !env.socketExists() {
				return fmt.Errorf("daemon not running (no socket at %s)", env.socketPath())
			}

			client, err := ipc.Connect(env.socketPath())
			if err != nil {
				return err
			}
			defer client.Close()

			snap, err := client.Snapshot()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, snap)
			}
			if snap.SessionID == "" {
				fmt.Fprintln(out, "No session has run yet")
				return nil
			}
			printReport(out, snap)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the snapshot as JSON")
	return cmd
}

func newQualityCmd() *cobra.Command {
	var ping, download, upload float64

	cmd := &cobra.Command{
		Use:     "quality",
		Short:   "Rate connection figures without running a test",
		Example: "  speedpulse quality --ping 15 --download 150 --upload 80",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ping < 0 || download < 0 || upload < 0 {
				return fmt.Errorf("figures must not be negative")
			}
			printQuality(cmd.OutOrStdout(), ping, download, upload)
			return nil
		},
	}

	cmd.Flags().Float64Var(&ping, "ping", 0, "ping in ms")
	cmd.Flags().Float64Var(&download, "download", 0, "download in Mbps")
	cmd.Flags().Float64Var(&upload, "upload", 0, "upload in Mbps")
	_ = cmd.MarkFlagRequired("ping")
	_ = cmd.MarkFlagRequired("download")
	_ = cmd.MarkFlagRequired("upload")
	return cmd
}

func printQuality(w io.Writer, ping, download, upload float64) {
	a := quality.Classify(ping, download, upload)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Ping\t%.1f ms\t%s\n", ping, quality.Indicator(storage.KindPing, ping))
	fmt.Fprintf(tw, "Download\t%.2f Mbps\t%s\n", download, quality.Indicator(storage.KindDownload, download))
	fmt.Fprintf(tw, "Upload\t%.2f Mbps\t%s\n", upload, quality.Indicator(storage.KindUpload, upload))
	tw.Flush()

	fmt.Fprintf(w, "\nRating: %s\n", a.Rating)
	for _, rec := range a.Recommendations {
		fmt.Fprintf(w, "  - %s\n", rec)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
