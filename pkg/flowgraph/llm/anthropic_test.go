package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMessagesAPI serves /v1/messages and captures the request body.
func fakeMessagesAPI(t *testing.T, status int, reply string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&captured)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_01",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-3-5-haiku-latest",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]any{{"type": "text", "text": reply}},
			"usage":         map[string]any{"input_tokens": 12, "output_tokens": 8},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func TestAnthropic_Complete(t *testing.T) {
	srv, captured := fakeMessagesAPI(t, http.StatusOK, ` {"first_name":"Ravi"} `)
	client := NewAnthropic(WithAPIKey("test"), WithBaseURL(srv.URL), WithModel("claude-test"))

	resp, err := client.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "Reply with JSON only.",
		Messages: []Message{
			{Role: RoleUser, Content: "Hi"},
			{Role: RoleAssistant, Content: "What's your name?"},
			{Role: RoleUser, Content: "My name is Ravi"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, `{"first_name":"Ravi"}`, resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 20, resp.Usage.Total())

	body := *captured
	assert.Equal(t, "claude-test", body["model"])
	assert.EqualValues(t, 512, body["max_tokens"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 3)
	assert.NotNil(t, body["system"])
}

func TestAnthropic_RequestOverrides(t *testing.T) {
	srv, captured := fakeMessagesAPI(t, http.StatusOK, "{}")
	client := NewAnthropic(WithAPIKey("test"), WithBaseURL(srv.URL))

	_, err := client.Complete(context.Background(), CompletionRequest{
		Model:     "claude-override",
		MaxTokens: 64,
		Messages:  []Message{{Role: RoleUser, Content: "2"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "claude-override", (*captured)["model"])
	assert.EqualValues(t, 64, (*captured)["max_tokens"])
}

func TestAnthropic_Prefill(t *testing.T) {
	srv, captured := fakeMessagesAPI(t, http.StatusOK, `"plate": "TS09EA4321"}`)
	client := NewAnthropic(WithAPIKey("test"), WithBaseURL(srv.URL))

	resp, err := client.Complete(context.Background(), CompletionRequest{
		Messages:      []Message{{Role: RoleUser, Content: "it's TS09EA4321"}},
		Prefill:       "{",
		StopSequences: []string{"\n\n"},
	})

	require.NoError(t, err)
	assert.Equal(t, `{"plate": "TS09EA4321"}`, resp.Content)

	messages, ok := (*captured)["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	last, ok := messages[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "assistant", last["role"])
	assert.Equal(t, []any{"\n\n"}, (*captured)["stop_sequences"])
}

func TestAnthropic_ServerErrorIsRetryable(t *testing.T) {
	srv, _ := fakeMessagesAPI(t, http.StatusServiceUnavailable, "")
	client := NewAnthropic(WithAPIKey("test"), WithBaseURL(srv.URL))

	_, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})

	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestAnthropic_BadRequestIsNotRetryable(t *testing.T) {
	srv, _ := fakeMessagesAPI(t, http.StatusBadRequest, "")
	client := NewAnthropic(WithAPIKey("test"), WithBaseURL(srv.URL))

	_, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})

	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestAnthropic_Cancelled(t *testing.T) {
	srv, _ := fakeMessagesAPI(t, http.StatusOK, "{}")
	client := NewAnthropic(WithAPIKey("test"), WithBaseURL(srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Complete(ctx, CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestError(t *testing.T) {
	cause := errors.New("boom")
	err := NewError("complete", cause, true)

	assert.Equal(t, "llm complete: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(cause))
}
