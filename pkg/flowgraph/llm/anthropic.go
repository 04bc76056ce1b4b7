package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultModel is used when neither the client nor the request names one.
const DefaultModel = "claude-3-5-haiku-latest"

// Anthropic implements Client with the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// AnthropicOption configures Anthropic.
type AnthropicOption func(*anthropicConfig)

type anthropicConfig struct {
	model      string
	maxTokens  int
	apiKey     string
	baseURL    string
	maxRetries int
	timeout    time.Duration
}

// WithModel sets the default model.
func WithModel(model string) AnthropicOption {
	return func(c *anthropicConfig) { c.model = model }
}

// WithMaxTokens sets the default reply budget.
func WithMaxTokens(n int) AnthropicOption {
	return func(c *anthropicConfig) { c.maxTokens = n }
}

// WithAPIKey sets the API key. Without it the SDK reads ANTHROPIC_API_KEY.
func WithAPIKey(key string) AnthropicOption {
	return func(c *anthropicConfig) { c.apiKey = key }
}

// WithBaseURL points the client at another endpoint.
func WithBaseURL(url string) AnthropicOption {
	return func(c *anthropicConfig) { c.baseURL = url }
}

// WithMaxRetries sets SDK-level retries. Extraction tiers default to 0:
// a failing tier falls through instead of retrying.
func WithMaxRetries(n int) AnthropicOption {
	return func(c *anthropicConfig) { c.maxRetries = n }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) AnthropicOption {
	return func(c *anthropicConfig) { c.timeout = d }
}

// NewAnthropic creates an Anthropic client.
func NewAnthropic(opts ...AnthropicOption) *Anthropic {
	cfg := anthropicConfig{
		model:     DefaultModel,
		maxTokens: 512,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithMaxRetries(cfg.maxRetries)}
	if cfg.apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.apiKey))
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}

	return &Anthropic{
		client:    anthropic.NewClient(reqOpts...),
		model:     cfg.model,
		maxTokens: cfg.maxTokens,
	}
}

// Complete implements Client.
func (a *Anthropic) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := a.client.Messages.New(ctx, a.params(req))
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError("complete", ctx.Err(), false)
		}
		return nil, NewError("complete", err, isRetryable(err))
	}

	var text strings.Builder
	text.WriteString(req.Prefill)
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	return &CompletionResponse{
		Content:      strings.TrimSpace(text.String()),
		Model:        string(resp.Model),
		FinishReason: string(resp.StopReason),
		Usage:        TokenUsage{InputTokens: in, OutputTokens: out},
		Duration:     time.Since(start),
	}, nil
}

// params converts a request into Messages API parameters.
func (a *Anthropic) params(req CompletionRequest) anthropic.MessageNewParams {
	model := a.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := a.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	if req.Prefill != "" {
		messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(req.Prefill)))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	return params
}

// isRetryable reports whether a provider error is transient.
func isRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == 529,
			apiErr.StatusCode >= 500:
			return true
		}
		return false
	}
	// Transport failures never reached the API.
	return true
}
