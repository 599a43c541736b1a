package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/bus"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/eventstore"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/natsserver"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/runtime"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		bind string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history, health and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("bind") {
				cfg.HTTP.Bind = bind
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := a.logger

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tel, err := runtime.SetupTelemetry(ctx, cfg, logger)
			if err != nil {
				return a.fail("failed to setup telemetry", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					logger.Warn("telemetry shutdown error", slog.String("error", err.Error()))
				}
			}()

			store, err := eventstore.Open(ctx, cfg.EventStore, logger)
			if err != nil {
				return a.fail("failed to open event store", err)
			}
			defer store.Close()

			var checks []runtime.HealthCheck
			embedded, err := natsserver.Start(cfg.Bus, logger)
			if err != nil {
				return a.fail("failed to start embedded NATS", err)
			}
			defer embedded.Shutdown()
			if cfg.Bus.Enabled {
				client, err := bus.Connect(ctx, cfg.Bus, embedded.ClientURL(), logger)
				if err != nil {
					return a.fail("failed to connect to NATS", err)
				}
				defer client.Close()
				checks = append(checks, runtime.HealthCheck{Name: "bus", Healthy: client.Healthy})
			}

			addr := fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port)
			srv := runtime.NewServer(addr, store, tel.MetricsHandler(), logger, checks...)
			if err := srv.Serve(ctx); err != nil {
				return a.fail("http server failed", err)
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "listen address (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}
