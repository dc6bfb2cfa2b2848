package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wellsgz/speedpulse/internal/api"
	"github.com/wellsgz/speedpulse/internal/ipc"
	"github.com/wellsgz/speedpulse/internal/logging"
	"github.com/wellsgz/speedpulse/internal/metrics"
	"github.com/wellsgz/speedpulse/internal/session"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *globalFlags) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: REST and WebSocket API, IPC socket and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := flags.load()
			if err != nil {
				return err
			}
			if address != "" {
				env.cfg.Server.Address = address
			}
			return serve(cmd.Context(), env)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "API listen address (overrides server.address)")
	return cmd
}

func serve(ctx context.Context, env *environment) error {
	cfg := env.cfg

	if !env.explicitConfig {
		if created, err := env.paths.CreateDefaultConfig(); err != nil {
			logging.Warn("Main", "Failed to create default config: "+err.Error(), nil)
		} else if created {
			logging.Info("Main", "Created default config at "+env.paths.ConfigFile, nil)
		}
	}
	if err := env.paths.EnsureDirectories(); err != nil {
		return err
	}

	var recorder session.Recorder
	var metricsHandler http.Handler
	if cfg.Server.EnableMetrics {
		exporter := metrics.NewExporter()
		recorder = exporter
		metricsHandler = exporter.Handler()
	}

	prod := newProducer(cfg)
	defer prod.Stop()

	machine := newMachine(cfg, prod, recorder)
	defer machine.Close()

	ipcServer := ipc.NewServer(env.socketPath(), machine, prod, cfg.Session.BufferSize)
	if err := ipcServer.Start(); err != nil {
		return err
	}
	defer ipcServer.Stop()

	server := api.NewServer(cfg, api.Deps{
		Session: machine,
		Servers: prod,
		Metrics: metricsHandler,
	})
	server.StartAsync(cfg.Server.Address)

	logging.Info("Main", "speedpulse daemon running", map[string]any{
		"address": cfg.Server.Address,
		"socket":  env.socketPath(),
		"metrics": cfg.Server.EnableMetrics,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logging.Info("Main", "Shutting down", nil)
	if machine.Phase().Running() {
		if err := machine.Stop(); err != nil {
			logging.Warn("Main", "Failed to stop running session: "+err.Error(), nil)
		}
	}
	return server.Shutdown(shutdownTimeout)
}
