// Package server exposes the booking runner over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/randalmurphal/wapiflow/pkg/booking"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/config"
	"github.com/randalmurphal/wapiflow/pkg/state"
)

// Defaults for Settings.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultListLimit       = 50
)

// Settings holds HTTP server configuration.
type Settings struct {
	Addr            string
	ShutdownTimeout time.Duration

	// ListLimit caps GET /conversations when the request has no limit.
	ListLimit int
}

// SettingsFrom reads Settings from cfg, applying defaults.
func SettingsFrom(cfg config.Config) Settings {
	return Settings{
		Addr:            cfg.String("server.addr", DefaultAddr),
		ShutdownTimeout: cfg.Duration("server.shutdown_timeout", DefaultShutdownTimeout),
		ListLimit:       cfg.Int("server.list_limit", DefaultListLimit),
	}
}

// Server serves the chat endpoint and the operator conversation endpoints.
type Server struct {
	echo     *echo.Echo
	runner   *booking.Runner
	logger   *slog.Logger
	metrics  *HTTPMetrics
	settings Settings
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHTTPMetrics records request metrics with m.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a server for runner.
func New(runner *booking.Runner, settings Settings, opts ...Option) (*Server, error) {
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if settings.Addr == "" {
		settings.Addr = DefaultAddr
	}
	if settings.ShutdownTimeout <= 0 {
		settings.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		runner:   runner,
		logger:   slog.Default(),
		settings: settings,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Metrics and the request log sit outside Recover so they see the
	// final status of a panicking handler.
	e.Use(middleware.RequestID())
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}
	e.Use(s.requestLogger())
	e.Use(middleware.Recover())

	s.echo = e
	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			s.logger.Info("http request",
				slog.String("method", c.Request().Method),
				slog.String("uri", c.Request().RequestURI),
				slog.Int("status", c.Response().Status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/chat", s.handleChat)
	v1.GET("/conversations", s.handleList)
	v1.GET("/conversations/:id", s.handleGet)
	v1.DELETE("/conversations/:id", s.handleDelete)
}

// ChatRequest is the request body for POST /api/v1/chat.
type ChatRequest struct {
	ConversationID string       `json:"conversation_id"`
	Message        string       `json:"message"`
	History        []state.Turn `json:"history,omitempty"`
}

// ChatResponse is the response body for POST /api/v1/chat.
type ChatResponse struct {
	ConversationID string   `json:"conversation_id"`
	Reply          string   `json:"reply"`
	CurrentStep    string   `json:"current_step"`
	ShouldProceed  bool     `json:"should_proceed"`
	Completeness   float64  `json:"completeness"`
	Errors         []string `json:"errors"`
}

// ConversationSummary describes the latest checkpoint of a conversation.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	Version        int64     `json:"version"`
	NodeID         string    `json:"node_id"`
	Step           string    `json:"step"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ListResponse is the response body for GET /api/v1/conversations.
type ListResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleChat runs one inbound message. A cycle that failed inside the
// workflow still answers 200 with the apology the runner produced.
func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid chat request", slog.String("error", err.Error()))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ConversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id field is required")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}

	conv, err := s.runner.Run(c.Request().Context(), req.ConversationID, req.Message, req.History)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "conversation timed out")
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled")
	case conv == nil:
		s.logger.Error("chat failed",
			slog.String("conversation_id", req.ConversationID),
			slog.String("error", err.Error()),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "conversation failed")
	}

	errs := conv.Errors
	if errs == nil {
		errs = []string{}
	}
	return c.JSON(http.StatusOK, ChatResponse{
		ConversationID: conv.ConversationID,
		Reply:          conv.Response,
		CurrentStep:    conv.CurrentStep,
		ShouldProceed:  conv.ShouldProceed,
		Completeness:   conv.Completeness,
		Errors:         errs,
	})
}

func (s *Server) handleList(c echo.Context) error {
	filter := checkpoint.Filter{
		Pattern: c.QueryParam("pattern"),
		Limit:   s.settings.ListLimit,
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	if raw := c.QueryParam("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC 3339 timestamp")
		}
		filter.Since = since
	}

	recs, err := s.runner.List(c.Request().Context(), filter)
	if errors.Is(err, checkpoint.ErrBadPattern) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		s.logger.Error("list conversations failed", slog.String("error", err.Error()))
		return echo.NewHTTPError(http.StatusInternalServerError, "list failed")
	}

	resp := ListResponse{Conversations: make([]ConversationSummary, 0, len(recs))}
	for _, r := range recs {
		resp.Conversations = append(resp.Conversations, ConversationSummary{
			ConversationID: r.ConversationID,
			Version:        r.Version,
			NodeID:         r.NodeID,
			Step:           r.Step,
			UpdatedAt:      r.Timestamp,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGet(c echo.Context) error {
	id := c.Param("id")
	conv, err := s.runner.Load(c.Request().Context(), id)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("conversation %s not found", id))
	}
	if err != nil {
		s.logger.Error("load conversation failed",
			slog.String("conversation_id", id),
			slog.String("error", err.Error()),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "load failed")
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleDelete(c echo.Context) error {
	id := c.Param("id")
	if err := s.runner.Clear(c.Request().Context(), id); err != nil {
		s.logger.Error("clear conversation failed",
			slog.String("conversation_id", id),
			slog.String("error", err.Error()),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "clear failed")
	}
	s.logger.Info("conversation cleared", slog.String("conversation_id", id))
	return c.NoContent(http.StatusNoContent)
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", slog.String("addr", s.settings.Addr))
	if err := s.echo.Start(s.settings.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(ctx, s.settings.ShutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
