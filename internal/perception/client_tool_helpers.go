package perception

import (
	"encoding/json"
	"strings"

	"taskpilot/internal/types"
)

// MapToolDefinitionsToOpenAI converts generic tool definitions to OpenAI-compatible format.
func MapToolDefinitionsToOpenAI(tools []types.ToolDefinition) []OpenAITool {
	result := make([]OpenAITool, len(tools))
	for i, t := range tools {
		result[i] = OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		}
	}
	return result
}

// MapOpenAIToolCallsToInternal converts OpenAI tool calls to generic tool calls.
// Arguments stay raw; the executor decides whether they parse.
func MapOpenAIToolCallsToInternal(calls []OpenAIToolCall) []types.ToolCall {
	result := make([]types.ToolCall, 0, len(calls))
	for _, c := range calls {
		if c.Type != "" && c.Type != "function" {
			continue
		}
		result = append(result, types.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: json.RawMessage(c.Function.Arguments),
		})
	}
	return result
}

// MapHistoryToOpenAI flattens the conversation into chat/completions messages,
// leading with the system instruction.
func MapHistoryToOpenAI(systemPrompt string, history []types.Message) []OpenAIMessage {
	msgs := make([]OpenAIMessage, 0, len(history)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		msgs = append(msgs, OpenAIMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		switch m.Role {
		case types.RoleAssistant:
			msg := OpenAIMessage{Role: "assistant", Content: m.Content}
			for _, tc := range m.ToolCalls {
				args := string(tc.Arguments)
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				msg.ToolCalls = append(msg.ToolCalls, OpenAIToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: OpenAIFunctionCall{Name: tc.Name, Arguments: args},
				})
			}
			msgs = append(msgs, msg)
		case types.RoleTool:
			msgs = append(msgs, OpenAIMessage{Role: "tool", Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name})
		default:
			msgs = append(msgs, OpenAIMessage{Role: "user", Content: m.Content})
		}
	}
	return msgs
}

// stopReason normalizes provider finish reasons.
func stopReason(reason string, hasToolCalls bool) string {
	switch strings.ToLower(reason) {
	case "tool_calls", "function_call":
		return "tool_use"
	case "stop", "":
		if hasToolCalls {
			return "tool_use"
		}
		return "end_turn"
	case "length", "max_tokens":
		return "max_tokens"
	default:
		return strings.ToLower(reason)
	}
}
