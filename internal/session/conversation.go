package session

import (
	"taskpilot/internal/types"
)

// Conversation is the append-only log for one request: the system
// instruction, the user message, then alternating model turns and tool results.
type Conversation struct {
	system   string
	messages []types.Message
}

// NewConversation starts a conversation with the user's text.
func NewConversation(system, userText string) *Conversation {
	return &Conversation{
		system:   system,
		messages: []types.Message{{Role: types.RoleUser, Content: userText}},
	}
}

// System returns the system instruction.
func (c *Conversation) System() string { return c.system }

// Messages returns a copy of the log.
func (c *Conversation) Messages() []types.Message {
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// AppendAssistant records a model turn with the tool calls it requested.
func (c *Conversation) AppendAssistant(text string, calls []types.ToolCall) {
	msg := types.Message{Role: types.RoleAssistant, Content: text}
	if len(calls) > 0 {
		msg.ToolCalls = append([]types.ToolCall(nil), calls...)
	}
	c.messages = append(c.messages, msg)
}

// AppendToolResult records the observation for call.
func (c *Conversation) AppendToolResult(call types.ToolCall, content string) {
	c.messages = append(c.messages, types.Message{
		Role:       types.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
	})
}

// Unpaired returns the ids of tool calls that have no result yet, in call order.
func (c *Conversation) Unpaired() []string {
	answered := make(map[string]bool)
	for _, m := range c.messages {
		if m.Role == types.RoleTool {
			answered[m.ToolCallID] = true
		}
	}
	var out []string
	for _, m := range c.messages {
		for _, call := range m.ToolCalls {
			if !answered[call.ID] {
				out = append(out, call.ID)
			}
		}
	}
	return out
}
