package types

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrUpstreamUnavailable marks a transport failure talking to the model or the task store.
// Callers surface it as a retryable error, never as a domain outcome.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// ErrRateLimited is wrapped alongside ErrUpstreamUnavailable when the provider throttled us.
var ErrRateLimited = errors.New("rate limited (429 too many requests)")

// LLMClient defines the interface for LLM interactions.
type LLMClient interface {
	// CompleteWithTools sends the full conversation with tool definitions and returns the
	// model's text and any tool calls it requested.
	CompleteWithTools(ctx context.Context, systemPrompt string, history []Message, tools []ToolDefinition) (*LLMToolResponse, error)
}

// ToolDefinition describes a tool that the LLM can invoke.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"` // JSON Schema for parameters
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID        string          `json:"id"`        // Pairs the call with its result
	Name      string          `json:"name"`      // Tool name to invoke
	Arguments json.RawMessage `json:"arguments"` // Untrusted argument payload, validated by the executor
}

// Role identifies who produced a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation sent to the model.
//
// An assistant message may carry ToolCalls; a tool message carries the
// result for exactly one call, identified by ToolCallID.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// UsageMetadata captures token usage metrics from the LLM.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// LLMToolResponse contains both text response and tool calls from the LLM.
type LLMToolResponse struct {
	Text       string        `json:"text"`        // Text response (may be empty if only tool calls)
	ToolCalls  []ToolCall    `json:"tool_calls"`  // Tool invocations requested by LLM, in emitted order
	StopReason string        `json:"stop_reason"` // "end_turn", "tool_use", etc.
	Usage      UsageMetadata `json:"usage"`
}

// HasToolCalls reports whether the model asked for at least one tool.
func (r *LLMToolResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}
