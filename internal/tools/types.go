// Package tools declares the task tool catalog offered to the model and executes
// the calls the model makes against a task store.
//
// Architecture:
//
//	Catalog() → Registry (validation, schema emission) → Executor.Execute() → task.Store
package tools

import (
	"context"
	"encoding/json"
	"sort"

	"taskpilot/internal/resolve"
	"taskpilot/internal/types"
)

// ToolCategory separates read-only tools from mutating ones.
type ToolCategory string

const (
	// CategoryRead tools never change the store.
	CategoryRead ToolCategory = "/read"

	// CategoryWrite tools create, update or delete tasks and are audited.
	CategoryWrite ToolCategory = "/write"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Default     any      `json:"default,omitempty"`
	Enum        []any    `json:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
	Format      string   `json:"format,omitempty"`
}

// ToolSchema defines the JSON schema for tool arguments.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// Observation is what a tool hands back: the JSON payload fed to the model and,
// when the call resolved a task reference, the outcome surfaced to the caller.
type Observation struct {
	Payload any
	Outcome *resolve.Outcome
}

// ExecuteFunc is the signature for tool execution.
type ExecuteFunc func(ctx context.Context, args map[string]any) (Observation, error)

// Tool is one catalog entry. A declaration from Catalog has a nil Execute until
// an executor binds it.
type Tool struct {
	// Name is the unique identifier the model calls.
	Name string

	// Description explains what the tool does, for the model.
	Description string

	// Category classifies the tool as read or write.
	Category ToolCategory

	// Execute runs the tool with the given arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// Definition renders the tool as a model-facing JSON Schema definition.
func (t *Tool) Definition() types.ToolDefinition {
	props := make(map[string]interface{}, len(t.Schema.Properties))
	names := make([]string, 0, len(t.Schema.Properties))
	for name := range t.Schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := t.Schema.Properties[name]
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			prop["maximum"] = *p.Maximum
		}
		if p.Format != "" {
			prop["format"] = p.Format
		}
		props[name] = prop
	}

	required := t.Schema.Required
	if required == nil {
		required = []string{}
	}

	return types.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// ToolResult wraps the result of tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Payload is the JSON-serializable observation for the model.
	Payload any

	// Outcome is set when the call resolved (or failed to resolve) a task reference.
	Outcome *resolve.Outcome

	// DurationMs is how long execution took.
	DurationMs int64
}

// Content renders the payload as the JSON text sent back to the model.
func (r *ToolResult) Content() string {
	data, err := json.Marshal(r.Payload)
	if err != nil {
		data, _ = json.Marshal(FailureResult{Error: "internal", Message: "result could not be encoded"})
	}
	return string(data)
}

// IsSuccess reports whether the payload signals a completed action.
func (r *ToolResult) IsSuccess() bool {
	_, failed := r.Payload.(FailureResult)
	return !failed
}

func bound(v float64) *float64 { return &v }
