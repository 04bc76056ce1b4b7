package telemetry

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/randalmurphal/wapiflow/pkg/state"
)

// MemoryPublisher keeps milestones in process memory.
type MemoryPublisher struct {
	mu         sync.RWMutex
	milestones []state.Milestone
}

// NewMemoryPublisher creates an empty memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(_ context.Context, m state.Milestone) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.milestones = append(p.milestones, m)
	return nil
}

// Milestones returns the published milestones, oldest first.
func (p *MemoryPublisher) Milestones() []state.Milestone {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.milestones)
}

// For returns the milestones of one conversation.
func (p *MemoryPublisher) For(conversationID string) []state.Milestone {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []state.Milestone
	for _, m := range p.milestones {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

// LogPublisher writes milestones to a structured log.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a log publisher. A nil logger uses slog.Default().
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(ctx context.Context, m state.Milestone) error {
	p.logger.InfoContext(ctx, "milestone",
		slog.String("milestone_id", m.ID),
		slog.String("conversation_id", m.ConversationID),
		slog.String("name", m.Name),
		slog.String("type", m.Type),
		slog.String("current_step", m.CurrentStep),
		slog.Float64("completeness", m.Completeness),
		slog.Int("errors", len(m.Errors)),
	)
	return nil
}
