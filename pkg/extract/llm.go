package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/wapiflow/pkg/state"
)

// DefaultHistoryTurns is how much history the model sees.
const DefaultHistoryTurns = 6

// LLMExtractor asks a language model for a JSON object of fields.
type LLMExtractor struct {
	client       llm.Client
	field        string
	instructions string
	historyTurns int
	now          func() time.Time
}

// NewLLMExtractor creates an extractor for field. instructions describe
// the keys the reply object should carry.
func NewLLMExtractor(client llm.Client, field, instructions string) *LLMExtractor {
	return &LLMExtractor{
		client:       client,
		field:        field,
		instructions: instructions,
		historyTurns: DefaultHistoryTurns,
	}
}

// WithClock tells the model today's date so it can resolve relative dates.
func (e *LLMExtractor) WithClock(now func() time.Time) *LLMExtractor {
	e.now = now
	return e
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, in Input) (Data, error) {
	resp, err := e.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: e.systemPrompt(),
		Messages:     e.messages(in),
		Temperature:  0,
	})
	if err != nil {
		return Data{}, err
	}
	return parseReply(resp.Content)
}

func (e *LLMExtractor) systemPrompt() string {
	prompt := fmt.Sprintf(`You extract the customer's %s from a vehicle-service booking chat.
%s
Reply with one JSON object and nothing else. Include a "confidence" number between 0 and 1.
If the latest message does not contain the %s, reply with {}.`, e.field, e.instructions, e.field)
	if e.now != nil {
		prompt += "\nToday is " + e.now().Format("Monday, 2006-01-02") + "."
	}
	return prompt
}

func (e *LLMExtractor) messages(in Input) []llm.Message {
	history := in.History
	if len(history) > e.historyTurns {
		history = history[len(history)-e.historyTurns:]
	}
	out := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == state.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Content})
	}
	// History normally ends with the message being processed.
	if n := len(history); n == 0 || history[n-1].Role != state.RoleUser || history[n-1].Content != in.Message {
		out = append(out, llm.Message{Role: llm.RoleUser, Content: in.Message})
	}
	return out
}

// parseReply decodes a model reply, tolerating a fenced code block.
func parseReply(content string) (Data, error) {
	raw := strings.TrimSpace(content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Data{}, &flowerrors.JSONParseError{Input: content, Message: err.Error()}
	}

	var confidence float64
	if c, ok := state.ToFloat(fields["confidence"]); ok {
		confidence = c
	}
	delete(fields, "confidence")
	for k, v := range fields {
		if state.IsEmpty(v) {
			delete(fields, k)
		}
	}
	if len(fields) == 0 {
		return Data{}, ErrNoMatch
	}
	return Data{Fields: fields, Confidence: confidence}, nil
}

// LLMTier wraps an LLM extractor as the primary tier.
func LLMTier(client llm.Client, field, instructions string, timeout time.Duration) Tier {
	return Tier{
		Name:      field + "_llm",
		Method:    MethodLLM,
		Timeout:   timeout,
		Extractor: NewLLMExtractor(client, field, instructions),
	}
}
