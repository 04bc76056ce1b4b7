package llm

import (
	"context"
	"sync"
)

// MockClient is a scripted Client for tests and offline runs.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	next      int
	err       error
	fn        func(context.Context, CompletionRequest) (*CompletionResponse, error)

	// Calls records every request received.
	Calls []CompletionRequest
}

// NewMockClient returns a client that always replies with response.
func NewMockClient(response string) *MockClient {
	return &MockClient{responses: []string{response}}
}

// WithResponses replies with each response in turn, cycling.
func (m *MockClient) WithResponses(responses ...string) *MockClient {
	m.responses = responses
	m.next = 0
	return m
}

// WithError makes every call fail with err.
func (m *MockClient) WithError(err error) *MockClient {
	m.err = err
	return m
}

// WithCompleteFunc delegates every call to fn.
func (m *MockClient) WithCompleteFunc(fn func(context.Context, CompletionRequest) (*CompletionResponse, error)) *MockClient {
	m.fn = fn
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn, err := m.fn, m.err
	var content string
	if len(m.responses) > 0 {
		content = m.responses[m.next%len(m.responses)]
		m.next++
	}
	m.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, req)
	}

	in := 1
	for _, msg := range req.Messages {
		in += len(msg.Content)/4 + 1
	}
	out := len(content)/4 + 1
	return &CompletionResponse{
		Content:      req.Prefill + content,
		FinishReason: "stop",
		Model:        "mock",
		Usage:        TokenUsage{InputTokens: in, OutputTokens: out},
	}, nil
}

// CallCount returns the number of calls received.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil.
func (m *MockClient) LastCall() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	last := m.Calls[len(m.Calls)-1]
	return &last
}

// Reset clears recorded calls and rewinds the responses.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.next = 0
}
