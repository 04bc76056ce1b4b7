// Package telemetry records conversation milestones.
//
// A milestone is appended to the conversation's checkpoint log and then
// fanned out to publishers (process memory, the structured log, NATS) for
// downstream consumers. Publishing is best effort: a failing publisher is
// logged and never affects the conversation.
package telemetry

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/randalmurphal/wapiflow/pkg/state"
)

// Milestone types.
const (
	TypeProgress     = "progress"
	TypeConfirmation = "confirmation"
	TypeTerminal     = "terminal"
)

// Publisher delivers milestones to a consumer.
type Publisher interface {
	Publish(ctx context.Context, m state.Milestone) error
}

// Recorder builds milestones and publishes them.
type Recorder struct {
	publishers []Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithPublisher adds a publisher. Publishers run in the order added.
func WithPublisher(p Publisher) Option {
	return func(r *Recorder) {
		if p != nil {
			r.publishers = append(r.publishers, p)
		}
	}
}

// WithLogger sets the logger used for publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRecorder creates a recorder.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends a milestone snapshot of c and publishes it.
func (r *Recorder) Record(ctx context.Context, c *state.Conversation, name, typ string) state.Milestone {
	ts := r.now().UTC()
	m := state.Milestone{
		ID:             ulid.MustNew(ulid.Timestamp(ts), ulid.DefaultEntropy()).String(),
		Name:           name,
		Type:           typ,
		Timestamp:      ts,
		ConversationID: c.ConversationID,
		CurrentStep:    c.CurrentStep,
		Completeness:   c.Completeness,
		Errors:         slices.Clone(c.Errors),
	}
	c.AppendMilestone(m)

	for _, p := range r.publishers {
		if err := p.Publish(ctx, m); err != nil {
			r.logger.Warn("milestone publish failed",
				slog.String("conversation_id", m.ConversationID),
				slog.String("milestone", m.Name),
				slog.String("error", err.Error()),
			)
		}
	}
	return m
}

// Once records the milestone unless c already has one with that name.
func (r *Recorder) Once(ctx context.Context, c *state.Conversation, name, typ string) bool {
	if c.HasMilestone(name) {
		return false
	}
	r.Record(ctx, c, name, typ)
	return true
}
