package main

import (
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/randalmurphal/wapiflow/pkg/backend"
	"github.com/randalmurphal/wapiflow/pkg/booking"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/observability"
	"github.com/randalmurphal/wapiflow/pkg/telemetry"
)

// app is the assembled booking stack shared by serve and chat.
type app struct {
	runner  *booking.Runner
	store   *checkpoint.DualStore
	backend backend.Backend
	nc      *nats.Conn
}

// buildApp wires the workflow from settings. The caller must Close it.
func buildApp(s booking.Settings, logger *slog.Logger, metrics observability.MetricsRecorder, runnerOpts ...booking.RunnerOption) (*app, error) {
	durable, err := checkpoint.NewSQLiteStore(s.CheckpointPath)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	a := &app{
		store:   checkpoint.NewDualStore(checkpoint.NewMemoryStore(), durable, checkpoint.WithDualLogger(logger)),
		backend: newBackend(s, logger),
	}

	recorderOpts := []telemetry.Option{
		telemetry.WithLogger(logger),
		telemetry.WithPublisher(telemetry.NewLogPublisher(logger)),
	}
	if s.NATSURL != "" {
		a.nc, err = telemetry.ConnectNATS(s.NATSURL)
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
		recorderOpts = append(recorderOpts, telemetry.WithPublisher(telemetry.NewNATSPublisher(a.nc, "")))
		logger.Info("publishing milestones", slog.String("nats_url", s.NATSURL))
	}

	deps := booking.Deps{
		Backend:        a.backend,
		Recorder:       telemetry.NewRecorder(recorderOpts...),
		Logger:         logger,
		Metrics:        metrics,
		PrimaryTimeout: s.PrimaryTimeout,
		PatternTimeout: s.PatternTimeout,
	}
	if s.LLMAPIKey != "" {
		llmOpts := []llm.AnthropicOption{llm.WithAPIKey(s.LLMAPIKey), llm.WithTimeout(s.PrimaryTimeout)}
		if s.LLMModel != "" {
			llmOpts = append(llmOpts, llm.WithModel(s.LLMModel))
		}
		deps.LLM = llm.NewAnthropic(llmOpts...)
	} else {
		logger.Info("llm.api_key not set, extraction uses pattern tiers only")
	}

	graph, err := booking.Build(deps)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("build workflow: %w", err)
	}

	opts := []booking.RunnerOption{
		booking.WithRunnerLogger(logger),
		booking.WithRunMetrics(metrics),
		booking.WithRunTimeout(s.RunTimeout),
	}
	a.runner = booking.NewRunner(graph, a.store, append(opts, runnerOpts...)...)
	return a, nil
}

// newBackend talks HTTP when a base URL is configured, otherwise it
// books against the in-memory fake.
func newBackend(s booking.Settings, logger *slog.Logger) backend.Backend {
	if s.BackendURL == "" {
		logger.Warn("backend.base_url not set, using the in-memory backend")
		return backend.NewFake()
	}
	opts := []backend.HTTPOption{
		backend.WithHTTPLogger(logger),
		backend.WithRateLimit(s.BackendRate, s.BackendBurst),
	}
	if s.BackendToken != "" {
		opts = append(opts, backend.WithToken(s.BackendToken))
	}
	return backend.NewHTTPClient(s.BackendURL, opts...)
}

// Close releases the store and the NATS connection.
func (a *app) Close() error {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
	}
	return a.store.Close()
}
