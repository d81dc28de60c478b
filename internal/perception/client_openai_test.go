package perception

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/types"
)

var testTools = []types.ToolDefinition{{
	Name:        "create_task",
	Description: "Create a task",
	InputSchema: map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"title": map[string]interface{}{"type": "string"}},
		"required":   []string{"title"},
	},
}}

func newTestOpenAI(url string, retries int) *OpenAIClient {
	return NewOpenAIClientWithConfig(OpenAIConfig{
		APIKey:     "sk-test",
		BaseURL:    url,
		Model:      "test-model",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
		Backoff:    func(int) time.Duration { return 0 },
	})
}

const toolCallBody = `{
  "choices": [{
    "message": {
      "role": "assistant",
      "content": "",
      "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "create_task", "arguments": "{\"title\":\"Pay invoice\"}"}}]
    },
    "finish_reason": "tool_calls"
  }],
  "usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
}`

func TestOpenAICompleteWithTools(t *testing.T) {
	var got OpenAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(toolCallBody))
	}))
	defer srv.Close()

	history := []types.Message{
		{Role: types.RoleUser, Content: "create a task called Pay invoice"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c0", Name: "list_tasks"}}},
		{Role: types.RoleTool, ToolCallID: "c0", Name: "list_tasks", Content: `{"ok":true}`},
	}
	resp, err := newTestOpenAI(srv.URL, 0).CompleteWithTools(context.Background(), "be brief", history, testTools)
	require.NoError(t, err)

	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.Equal(t, "{}", got.Messages[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool", got.Messages[3].Role)
	assert.Equal(t, "c0", got.Messages[3].ToolCallID)
	assert.Equal(t, "auto", got.ToolChoice)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "create_task", got.Tools[0].Function.Name)
	assert.Equal(t, "test-model", got.Model)

	require.True(t, resp.HasToolCalls())
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "create_task", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"title":"Pay invoice"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, types.UsageMetadata{InputTokens: 12, OutputTokens: 7, TotalTokens: 19}, resp.Usage)
}

func TestOpenAIFinalText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" Done. "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	resp, err := newTestOpenAI(srv.URL, 0).CompleteWithTools(context.Background(), "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Done.", resp.Text)
	assert.False(t, resp.HasToolCalls())
	assert.Equal(t, "end_turn", resp.StopReason)
}

func TestOpenAIRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(toolCallBody))
	}))
	defer srv.Close()

	resp, err := newTestOpenAI(srv.URL, 3).CompleteWithTools(context.Background(), "", nil, testTools)
	require.NoError(t, err)
	assert.True(t, resp.HasToolCalls())
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIRateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL, 2).CompleteWithTools(context.Background(), "", nil, nil)
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, types.ErrRateLimited)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad tool schema"}}`))
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL, 3).CompleteWithTools(context.Background(), "", nil, nil)
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, types.ErrRateLimited)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIMissingKey(t *testing.T) {
	c := NewOpenAIClientWithConfig(OpenAIConfig{BaseURL: "http://127.0.0.1:0"})
	_, err := c.CompleteWithTools(context.Background(), "", nil, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestOpenAICancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestOpenAI(srv.URL, 3)
	c.backoff = func(int) time.Duration { return time.Hour }
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.CompleteWithTools(ctx, "", nil, nil)
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStopReason(t *testing.T) {
	tests := []struct {
		in    string
		calls bool
		want  string
	}{
		{"tool_calls", true, "tool_use"},
		{"stop", false, "end_turn"},
		{"STOP", true, "tool_use"},
		{"", false, "end_turn"},
		{"MAX_TOKENS", false, "max_tokens"},
		{"SAFETY", false, "safety"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stopReason(tt.in, tt.calls), tt.in)
	}
}
