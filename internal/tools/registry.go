package tools

import (
	"context"
	"fmt"
	"sync"

	"taskpilot/internal/logging"
	"taskpilot/internal/types"
)

// Registry holds the bound tools and provides lookup, validation and schema emission.
// It is thread-safe. Tools keep their registration order for schema emission.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same name already exists.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)

	logging.ToolsDebug("Registered tool: %s (category=%s)", tool.Name, tool.Category)
	return nil
}

// MustRegister registers a tool and panics on error.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// All returns all registered tools in registration order.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

// Definitions renders every tool for the model, in registration order.
func (r *Registry) Definitions() []types.ToolDefinition {
	tools := r.All()
	defs := make([]types.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = t.Definition()
	}
	return defs
}

// ExecuteTool runs a specific tool with the given arguments. Missing required
// arguments come back as a structured invalid_argument result, not an error.
func (r *Registry) ExecuteTool(ctx context.Context, tool *Tool, args map[string]any) (*ToolResult, error) {
	timer := logging.StartTimer(logging.CategoryTools, tool.Name)

	if err := r.validateArgs(tool, args); err != nil {
		logging.ToolsDebug("Tool %s rejected: %v", tool.Name, err)
		obs, _ := observeError(tool.Name, err)
		return &ToolResult{
			ToolName:   tool.Name,
			Payload:    obs.Payload,
			Outcome:    obs.Outcome,
			DurationMs: timer.Stop().Milliseconds(),
		}, nil
	}

	logging.ToolsDebug("Executing tool: %s", tool.Name)
	obs, err := tool.Execute(ctx, args)
	if err != nil {
		obs, err = observeError(tool.Name, err)
	}

	duration := timer.Stop()
	if err != nil {
		logging.ToolsDebug("Tool %s failed hard: %v", tool.Name, err)
		return nil, err
	}

	return &ToolResult{
		ToolName:   tool.Name,
		Payload:    obs.Payload,
		Outcome:    obs.Outcome,
		DurationMs: duration.Milliseconds(),
	}, nil
}

// validateArgs checks that all required arguments are present and not null.
func (r *Registry) validateArgs(tool *Tool, args map[string]any) error {
	for _, required := range tool.Schema.Required {
		if v, ok := args[required]; !ok || v == nil {
			return invalid(required, "is required")
		}
	}
	return nil
}
