package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/randalmurphal/wapiflow/pkg/flowgraph"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/observability"
	"github.com/randalmurphal/wapiflow/pkg/state"
)

// ErrEmptyConversationID is returned by Run for a blank conversation ID.
var ErrEmptyConversationID = errors.New("conversation id is empty")

// runnerNodeID marks the checkpoint the runner writes after a cycle.
const runnerNodeID = "runner"

const fallbackReply = "Sorry, something went wrong on our side. Please send your message again."

// Runner processes inbound messages. Messages for one conversation are
// handled strictly one at a time, in arrival order; different
// conversations run concurrently.
type Runner struct {
	graph   *flowgraph.CompiledGraph[*state.Conversation]
	store   checkpoint.Store
	sender  Sender
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	tracing bool
	timeout time.Duration
	locks   *keyedLock
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSender delivers replies through s. Default: LogSender.
func WithSender(s Sender) RunnerOption {
	return func(r *Runner) {
		r.sender = s
	}
}

// WithRunnerLogger sets the logger. Default: slog.Default().
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRunMetrics records engine metrics with m.
func WithRunMetrics(m observability.MetricsRecorder) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithRunTracing enables spans for every cycle.
func WithRunTracing(enabled bool) RunnerOption {
	return func(r *Runner) {
		r.tracing = enabled
	}
}

// WithRunTimeout bounds each cycle. Zero means no bound.
func WithRunTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// NewRunner creates a runner executing graph against store.
func NewRunner(graph *flowgraph.CompiledGraph[*state.Conversation], store checkpoint.Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		graph:   graph,
		store:   store,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		locks:   newKeyedLock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sender == nil {
		r.sender = LogSender{Logger: r.logger}
	}
	return r
}

// Run processes one inbound message and returns the resulting state.
//
// history seeds a conversation that has none stored yet. When it already
// ends with message as a user turn, the message is not appended again.
// Stored history is never checked, so a repeated message is a new turn.
// The state is
// loaded from the latest checkpoint; a conversation whose booking has
// ended starts over, keeping its history. After the workflow cycle the
// assistant reply is appended to history, checkpointed and sent.
//
// A non-nil error is returned with the state when the cycle aborted.
func (r *Runner) Run(ctx context.Context, conversationID, message string, history []state.Turn) (*state.Conversation, error) {
	if conversationID == "" {
		return nil, ErrEmptyConversationID
	}
	unlock, err := r.locks.acquire(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("wait for conversation %s: %w", conversationID, err)
	}
	defer unlock()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	logger := r.logger.With(slog.String("conversation_id", conversationID))

	conv, version, err := r.load(ctx, logger, conversationID)
	if err != nil {
		return nil, err
	}
	seeded := len(conv.History) == 0 && len(history) > 0
	if seeded {
		conv.History = slices.Clone(history)
	}
	if !seeded || !endsWithUser(history, message) {
		conv.AppendTurn(state.RoleUser, message)
	}
	conv.Resume(message)

	fctx := flowgraph.NewContext(ctx,
		flowgraph.WithLogger(logger),
		flowgraph.WithContextRunID(conversationID),
	)
	result, runErr := r.graph.Run(fctx, conv,
		flowgraph.WithCheckpointing(r.store),
		flowgraph.WithRunID(conversationID),
		flowgraph.WithStartVersion(version),
		flowgraph.WithObservabilityLogger(logger),
		flowgraph.WithMetricsRecorder(r.metrics),
		flowgraph.WithTracing(r.tracing),
	)
	var cancelled *flowgraph.CancellationError
	if errors.As(runErr, &cancelled) {
		return result, runErr
	}
	if runErr != nil {
		logger.Error("workflow cycle failed", slog.String("error", runErr.Error()))
		if result.Response == "" {
			result.Say(fallbackReply)
		}
		result.Await()
	}

	if result.Response != "" {
		result.AppendTurn(state.RoleAssistant, result.Response)
	}
	if err := r.persist(ctx, result, version); err != nil {
		logger.Error("final checkpoint failed", slog.String("error", err.Error()))
	}
	if result.Response != "" {
		if err := r.sender.Send(ctx, conversationID, result.Response); err != nil {
			logger.Error("send reply failed", slog.String("error", err.Error()))
		}
	}
	return result, runErr
}

func endsWithUser(history []state.Turn, message string) bool {
	n := len(history)
	return n > 0 && history[n-1].Role == state.RoleUser && history[n-1].Content == message
}

// load returns the conversation to continue and its latest version.
func (r *Runner) load(ctx context.Context, logger *slog.Logger, id string) (*state.Conversation, int64, error) {
	rec, err := r.store.Get(ctx, id)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return state.New(id, StepStart), 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load conversation %s: %w", id, err)
	}
	var conv *state.Conversation
	if err := rec.Decode(&conv); err != nil {
		return nil, 0, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	if IsTerminal(conv) {
		logger.Info("booking ended, starting a new one", slog.String("previous_step", conv.CurrentStep))
		fresh := state.New(id, StepStart)
		fresh.History = conv.History
		return fresh, rec.Version, nil
	}
	return conv, rec.Version, nil
}

// persist writes the end-of-cycle state after whatever the workflow wrote.
func (r *Runner) persist(ctx context.Context, c *state.Conversation, startVersion int64) error {
	latest := startVersion
	if rec, err := r.store.Get(ctx, c.ConversationID); err == nil && rec.Version > latest {
		latest = rec.Version
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, checkpoint.New(c.ConversationID, latest+1, runnerNodeID, data).WithStep(c.CurrentStep))
}

// Load returns the latest state of a conversation.
func (r *Runner) Load(ctx context.Context, conversationID string) (*state.Conversation, error) {
	rec, err := r.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	var conv *state.Conversation
	if err := rec.Decode(&conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// List returns the latest checkpoint of each matching conversation.
func (r *Runner) List(ctx context.Context, filter checkpoint.Filter) ([]*checkpoint.Record, error) {
	return r.store.List(ctx, filter)
}

// Clear forgets a conversation. The next message starts afresh.
func (r *Runner) Clear(ctx context.Context, conversationID string) error {
	unlock, err := r.locks.acquire(ctx, conversationID)
	if err != nil {
		return err
	}
	defer unlock()
	return r.store.Delete(ctx, conversationID)
}
