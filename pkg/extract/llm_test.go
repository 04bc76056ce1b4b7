package extract

import (
	"context"
	"testing"
	"time"

	flowerrors "github.com/randalmurphal/wapiflow/pkg/flowgraph/errors"
	"github.com/randalmurphal/wapiflow/pkg/flowgraph/llm"
	"github.com/randalmurphal/wapiflow/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMExtractor_ParsesReply(t *testing.T) {
	client := llm.NewMockClient(`{"first_name": "Ravi", "last_name": "Kumar", "confidence": 0.9}`)
	ext := NewLLMExtractor(client, "name", `Keys: "first_name", "last_name".`)

	data, err := ext.Extract(context.Background(), Input{Message: "My name is Ravi Kumar"})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"first_name": "Ravi", "last_name": "Kumar"}, data.Fields)
	assert.Equal(t, 0.9, data.Confidence)

	req := client.LastCall()
	require.NotNil(t, req)
	assert.Contains(t, req.SystemPrompt, "name")
	assert.Contains(t, req.SystemPrompt, `"first_name"`)
	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "My name is Ravi Kumar"}}, req.Messages)
}

func TestLLMExtractor_History(t *testing.T) {
	client := llm.NewMockClient(`{"phone": "9876543210"}`)
	ext := NewLLMExtractor(client, "phone", "")
	history := []state.Turn{
		{Role: state.RoleAssistant, Content: "What's your phone number?"},
		{Role: state.RoleUser, Content: "98765 43210"},
	}

	_, err := ext.Extract(context.Background(), Input{Message: "98765 43210", History: history})

	require.NoError(t, err)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleAssistant, Content: "What's your phone number?"},
		{Role: llm.RoleUser, Content: "98765 43210"},
	}, client.LastCall().Messages)
}

func TestLLMExtractor_TrimsHistory(t *testing.T) {
	client := llm.NewMockClient(`{"x": 1}`)
	ext := NewLLMExtractor(client, "x", "")
	var history []state.Turn
	for range 10 {
		history = append(history, state.Turn{Role: state.RoleUser, Content: "old"})
	}

	_, err := ext.Extract(context.Background(), Input{Message: "new", History: history})

	require.NoError(t, err)
	assert.Len(t, client.LastCall().Messages, DefaultHistoryTurns+1)
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    map[string]any
		wantErr error
	}{
		{"fenced", "```json\n{\"brand\": \"Honda\"}\n```", map[string]any{"brand": "Honda"}, nil},
		{"nulls dropped", `{"brand": "Tata", "model": null, "plate": ""}`, map[string]any{"brand": "Tata"}, nil},
		{"empty object", `{}`, nil, ErrNoMatch},
		{"only confidence", `{"confidence": 0.2}`, nil, ErrNoMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := parseReply(tt.reply)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, data.Fields)
		})
	}
}

func TestParseReply_NotJSON(t *testing.T) {
	_, err := parseReply("Sure! The name is Ravi.")

	var parseErr *flowerrors.JSONParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "Sure! The name is Ravi.", parseErr.Input)
}

func TestLLMTier_FailureFallsThrough(t *testing.T) {
	client := llm.NewMockClient("").WithError(llm.NewError("complete", context.DeadlineExceeded, true))
	chain := NewChain("customer", []Tier{
		LLMTier(client, "name", "", time.Second),
		NameTier(),
	})

	result, err := chain.Run(context.Background(), Input{Message: "My name is Ravi Kumar"})

	require.NoError(t, err)
	assert.Equal(t, MethodPattern, result.Method)
	assert.Equal(t, 1, client.CallCount())
}

func TestLLMTier_Success(t *testing.T) {
	client := llm.NewMockClient(`{"first_name": "Sneha", "last_name": "Reddy"}`)
	chain := NewChain("customer", []Tier{LLMTier(client, "name", "", time.Second), NameTier()})

	result, err := chain.Run(context.Background(), Input{Message: "sneha reddy here"})

	require.NoError(t, err)
	assert.Equal(t, "name_llm", result.Tier)
	assert.Equal(t, MethodLLM, result.Method)
	assert.Equal(t, 0.95, result.Confidence)
}
