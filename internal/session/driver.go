// Package session runs one user request as a bounded tool-calling
// conversation with the model.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/logging"
	"taskpilot/internal/resolve"
	"taskpilot/internal/tools"
	"taskpilot/internal/types"
	"taskpilot/internal/usage"
)

// DefaultMaxTurns bounds the number of model calls per request.
const DefaultMaxTurns = 6

// DefaultSystemPrompt instructs the model to act without needless questions.
const DefaultSystemPrompt = "You are a task-planning assistant. " +
	"Use the tools to read or modify tasks when needed. " +
	"When creating tasks, assume defaults for missing fields. " +
	"Do not ask follow-up questions after completing an action. " +
	"Only ask a question if the action cannot be completed without clarification, " +
	"for example when a delete matches several tasks. " +
	"Reply with a brief confirmation of what happened."

// ErrEmptyInput is returned for blank user text.
var ErrEmptyInput = errors.New("empty input")

// ErrUnpairedCall is returned when a tool call would reach the model without its result.
var ErrUnpairedCall = errors.New("tool call without result")

// ToolExecutor runs catalog tools. *tools.Executor satisfies it.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, raw json.RawMessage) (*tools.ToolResult, error)
	Definitions() []types.ToolDefinition
}

// Config tunes the driver.
type Config struct {
	MaxTurns     int
	SystemPrompt string
	// Provider and Model label audit events and usage counters.
	Provider string
	Model    string
	// Usage, when set, accumulates token counts per model call.
	Usage *usage.Tracker
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{MaxTurns: DefaultMaxTurns, SystemPrompt: DefaultSystemPrompt}
}

// Result is what a request produced.
type Result struct {
	Text string
	// Outcome is the last resolution reported by a tool, if any.
	Outcome    *resolve.Outcome
	ModelCalls int
	ToolCalls  int
	// Exhausted is set when the turn budget ran out while the model still wanted tools.
	Exhausted bool
	History   []types.Message
}

// Driver runs conversations. It holds no per-request state and is safe for concurrent use.
type Driver struct {
	llm  types.LLMClient
	exec ToolExecutor
	cfg  Config
}

// NewDriver creates a driver. Zero config fields take their defaults.
func NewDriver(llm types.LLMClient, exec ToolExecutor, cfg Config) *Driver {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Driver{llm: llm, exec: exec, cfg: cfg}
}

// MaxTurns returns the model-call budget.
func (d *Driver) MaxTurns() int { return d.cfg.MaxTurns }

// Run drives one request to completion.
//
// Each turn sends the whole conversation and the catalog. Requested tools run
// one at a time in the order the model emitted them, and every result is
// appended paired to its call id before the next model call. The loop ends
// when the model answers without tools or after MaxTurns model calls.
func (d *Driver) Run(ctx context.Context, userText string) (*Result, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	audit := logging.Audit()
	conv := NewConversation(d.cfg.SystemPrompt, userText)
	defs := d.exec.Definitions()
	res := &Result{}
	logging.Session("request started: %q", userText)

	finished := false
	seen := make(map[string]bool)
	for res.ModelCalls < d.cfg.MaxTurns {
		if open := conv.Unpaired(); len(open) > 0 {
			logging.SessionError("refusing model call with unpaired tool calls: %v", open)
			return nil, fmt.Errorf("%w: %s", ErrUnpairedCall, strings.Join(open, ", "))
		}
		callStart := time.Now()
		resp, err := d.llm.CompleteWithTools(ctx, conv.System(), conv.Messages(), defs)
		res.ModelCalls++
		if err != nil {
			audit.LLMCall(d.cfg.Model, 0, time.Since(callStart), false, err.Error())
			logging.SessionError("model call %d failed: %v", res.ModelCalls, err)
			if !errors.Is(err, types.ErrUpstreamUnavailable) {
				err = fmt.Errorf("%w: %w", types.ErrUpstreamUnavailable, err)
			}
			return nil, err
		}
		if resp == nil {
			resp = &types.LLMToolResponse{}
		}
		audit.LLMCall(d.cfg.Model, resp.Usage.TotalTokens, time.Since(callStart), true, "")
		if d.cfg.Usage != nil {
			d.cfg.Usage.TrackCall(d.cfg.Provider, d.cfg.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		}

		res.Text = resp.Text
		if !resp.HasToolCalls() {
			conv.AppendAssistant(resp.Text, nil)
			finished = true
			break
		}

		calls := withCallIDs(resp.ToolCalls, seen)
		conv.AppendAssistant(resp.Text, calls)
		logging.SessionDebug("turn %d: model requested %d tool(s)", res.ModelCalls, len(calls))

		for _, call := range calls {
			tr, err := d.exec.Execute(ctx, call.Name, call.Arguments)
			res.ToolCalls++
			if err != nil {
				logging.SessionError("tool %s (%s) aborted the request: %v", call.Name, call.ID, err)
				return nil, err
			}
			conv.AppendToolResult(call, tr.Content())
			if tr.Outcome != nil {
				res.Outcome = tr.Outcome
			}
		}
	}

	res.Exhausted = !finished
	res.History = conv.Messages()
	audit.TurnEnd(res.ModelCalls, res.ToolCalls, res.Exhausted, time.Since(start))
	if d.cfg.Usage != nil {
		d.cfg.Usage.TrackRequest(res.Exhausted)
	}
	if res.Exhausted {
		logging.SessionWarn("turn budget of %d model calls exhausted", d.cfg.MaxTurns)
	}
	logging.Session("request finished: model_calls=%d tool_calls=%d", res.ModelCalls, res.ToolCalls)
	return res, nil
}

// withCallIDs copies calls, giving a fresh id to any call whose id is empty
// or was already used in this conversation, so every result pairs with exactly one call.
func withCallIDs(calls []types.ToolCall, seen map[string]bool) []types.ToolCall {
	out := make([]types.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" || seen[c.ID] {
			if c.ID != "" {
				logging.SessionDebug("replacing duplicate tool call id %s", c.ID)
			}
			c.ID = "call_" + uuid.NewString()
		}
		seen[c.ID] = true
		out[i] = c
	}
	return out
}
