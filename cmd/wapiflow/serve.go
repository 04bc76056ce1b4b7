package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/wapiflow/pkg/booking"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/observability"
	"github.com/randalmurphal/wapiflow/pkg/server"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API",
		Long: `Serve the chat API and the operator conversation endpoints.

Examples:
  # Serve on the configured address (server.addr, default :8080)
  wapiflow serve

  # Export traces and metrics to a local collector
  WAPIFLOW_OTLP_ENDPOINT=localhost:4318 WAPIFLOW_OTLP_INSECURE=true wapiflow serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			settings := booking.SettingsFrom(cfg)
			serverSettings := server.SettingsFrom(cfg)
			if addr != "" {
				serverSettings.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTelemetry, err := observability.Setup(ctx, observability.SetupConfig{
				Endpoint:       settings.OTLPEndpoint,
				ServiceName:    "wapiflow",
				ServiceVersion: version,
				Insecure:       settings.OTLPInsecure,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
				}
			}()
			tracing := settings.OTLPEndpoint != ""

			a, err := buildApp(settings, logger, observability.NewMetricsRecorder(), booking.WithRunTracing(tracing))
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := server.New(a.runner, serverSettings,
				server.WithLogger(logger),
				server.WithHTTPMetrics(server.NewHTTPMetrics(logger)),
			)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				logger.Info("received shutdown signal")
			}
			return srv.Shutdown(context.Background())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}
