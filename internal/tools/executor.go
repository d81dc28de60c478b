package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskpilot/internal/logging"
	"taskpilot/internal/resolve"
	"taskpilot/internal/task"
	"taskpilot/internal/types"
)

// DefaultToolTimeout bounds each store call made by a tool.
const DefaultToolTimeout = 10 * time.Second

// Executor runs catalog tools for one actor against a task store.
// Calls never share state beyond the store, so one Executor serves concurrent requests.
type Executor struct {
	store       task.Store
	actor       task.Actor
	registry    *Registry
	toolTimeout time.Duration
	audit       *logging.AuditLogger
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithToolTimeout sets the per-call store timeout. Zero or negative disables it.
func WithToolTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.toolTimeout = d }
}

// NewExecutor binds the catalog to store on behalf of actor.
func NewExecutor(store task.Store, actor task.Actor, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:       store,
		actor:       actor,
		registry:    NewRegistry(),
		toolTimeout: DefaultToolTimeout,
		audit:       logging.AuditFor(actor.ID),
	}
	for _, opt := range opts {
		opt(e)
	}

	handlers := map[string]ExecuteFunc{
		ToolListTasks:  e.listTasks,
		ToolCreateTask: e.createTask,
		ToolUpdateTask: e.updateTask,
		ToolDeleteTask: e.deleteTask,
	}
	for _, tool := range Catalog() {
		tool.Execute = handlers[tool.Name]
		e.registry.MustRegister(tool)
	}
	return e
}

// Registry exposes the bound tools.
func (e *Executor) Registry() *Registry { return e.registry }

// Definitions returns the catalog as model-facing tool definitions.
func (e *Executor) Definitions() []types.ToolDefinition {
	return e.registry.Definitions()
}

// Execute runs the named tool on the raw argument payload from the model.
//
// Domain failures (invalid argument, not found, ambiguous) come back as a
// result. The error is reserved for ErrUnknownOperation, ErrMalformedArguments
// and store failures wrapped in types.ErrUpstreamUnavailable.
func (e *Executor) Execute(ctx context.Context, name string, raw json.RawMessage) (*ToolResult, error) {
	tool := e.registry.Get(name)
	if tool == nil {
		logging.ToolsWarn("model requested unknown tool %q", name)
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}

	args, err := DecodeArguments(raw)
	if err != nil {
		logging.ToolsWarn("malformed arguments for %s: %v", name, err)
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	res, err := e.registry.ExecuteTool(ctx, tool, args)
	if err != nil {
		e.audit.ToolExec(name, 0, false, err.Error())
		return nil, err
	}
	if tool.Category == CategoryWrite {
		e.audit.ToolExec(name, time.Duration(res.DurationMs)*time.Millisecond, res.IsSuccess(), "")
	}
	return res, nil
}

func (e *Executor) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.toolTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.toolTimeout)
}

func (e *Executor) listTasks(ctx context.Context, args map[string]any) (Observation, error) {
	a := ParseListArgs(args)
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	tasks, err := e.store.List(ctx, e.actor.ID, task.Filter{Status: a.Status, Query: a.Query, Limit: a.Limit})
	if err != nil {
		return Observation{}, err
	}
	logging.ToolsDebug("list_tasks returned %d tasks", len(tasks))
	return Observation{Payload: ListResult{OK: true, Count: len(tasks), Tasks: tasks}}, nil
}

func (e *Executor) createTask(ctx context.Context, args map[string]any) (Observation, error) {
	a, err := ParseCreateArgs(args)
	if err != nil {
		return Observation{}, err
	}
	t := task.NewTask(e.actor.ID, a.Title)
	t.Description = a.Description
	t.Priority = a.Priority
	t.DueDate = a.DueDate

	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.Create(ctx, t); err != nil {
		return Observation{}, err
	}
	e.audit.TaskMutation(logging.AuditTaskCreate, t.ID)
	logging.Tools("created task %s %q", t.ID, t.Title)
	return Observation{Payload: TaskResult{OK: true, Task: t}, Outcome: resolvedTask(t)}, nil
}

func (e *Executor) updateTask(ctx context.Context, args map[string]any) (Observation, error) {
	a, err := ParseUpdateArgs(args)
	if err != nil {
		return Observation{}, err
	}

	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	t, err := e.store.Update(ctx, e.actor.ID, a.ID, a.Patch)
	if errors.Is(err, task.ErrNotFound) {
		return notFoundByID(a.ID), nil
	}
	if err != nil {
		return Observation{}, err
	}
	e.audit.TaskMutation(logging.AuditTaskUpdate, t.ID)
	logging.Tools("updated task %s", t.ID)
	return Observation{Payload: TaskResult{OK: true, Task: t}, Outcome: resolvedTask(t)}, nil
}

// deleteTask deletes by id when given, falling back to query when the id misses.
// A query deletes only when it resolves to exactly one task.
func (e *Executor) deleteTask(ctx context.Context, args map[string]any) (Observation, error) {
	a, err := ParseDeleteArgs(args)
	if err != nil {
		return Observation{}, err
	}

	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	if a.ID != "" {
		obs, err := e.deleteByID(ctx, a.ID)
		if err != nil {
			return Observation{}, err
		}
		if obs.Outcome == nil || obs.Outcome.Kind != resolve.KindNotFound || a.Query == "" {
			return obs, nil
		}
		logging.ToolsDebug("delete_task id %s missed, falling back to query %q", a.ID, a.Query)
	}

	candidates, err := e.store.Search(ctx, e.actor.ID, a.Query)
	if err != nil {
		return Observation{}, err
	}
	outcome := resolve.Resolve(candidates)
	logging.ToolsDebug("delete_task query %q: %d candidates -> %s", a.Query, len(candidates), outcome.Kind)

	switch outcome.Kind {
	case resolve.KindResolved:
		return e.deleteByID(ctx, outcome.Task.ID)
	case resolve.KindAmbiguous:
		return Observation{
			Payload: FailureResult{
				Error:   FailureAmbiguous,
				Field:   "query",
				Message: outcome.Message + " Nothing was deleted.",
				Choices: outcome.Choices,
			},
			Outcome: &outcome,
		}, nil
	default:
		return Observation{
			Payload: FailureResult{Error: FailureNotFound, Field: "query", Message: outcome.Message},
			Outcome: &outcome,
		}, nil
	}
}

func (e *Executor) deleteByID(ctx context.Context, id string) (Observation, error) {
	t, err := e.store.Get(ctx, e.actor.ID, id)
	if err == nil {
		err = e.store.Delete(ctx, e.actor.ID, id)
	}
	if errors.Is(err, task.ErrNotFound) {
		return notFoundByID(id), nil
	}
	if err != nil {
		return Observation{}, err
	}
	e.audit.TaskMutation(logging.AuditTaskDelete, id)
	logging.Tools("deleted task %s %q", id, t.Title)
	return Observation{
		Payload: DeleteResult{OK: true, DeletedTaskID: id, Title: t.Title},
		Outcome: resolvedTask(t),
	}, nil
}
