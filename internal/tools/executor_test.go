package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/resolve"
	"taskpilot/internal/store"
	"taskpilot/internal/task"
	"taskpilot/internal/types"
)

var actor = task.DemoActor()

func newExec(t *testing.T) (*Executor, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewExecutor(s, actor), s
}

func seed(t *testing.T, s task.Store, title string, created time.Time) *task.Task {
	t.Helper()
	tk := task.NewTask(actor.ID, title)
	tk.CreatedAt, tk.UpdatedAt = created, created
	require.NoError(t, s.Create(context.Background(), tk))
	return tk
}

func run(t *testing.T, e *Executor, name, raw string) *ToolResult {
	t.Helper()
	res, err := e.Execute(context.Background(), name, json.RawMessage(raw))
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestCatalogShape(t *testing.T) {
	e, _ := newExec(t)
	defs := e.Definitions()

	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	assert.Equal(t, []string{ToolListTasks, ToolCreateTask, ToolUpdateTask, ToolDeleteTask}, names)
	assert.Equal(t, []string{"title"}, defs[1].InputSchema["required"])
	assert.Equal(t, []string{"id"}, defs[2].InputSchema["required"])
	assert.Equal(t, []string{}, defs[3].InputSchema["required"])

	// Declarations are fresh each call and unbound.
	for _, tool := range Catalog() {
		assert.Nil(t, tool.Execute)
	}
}

func TestExecuteUnknownOperation(t *testing.T) {
	e, _ := newExec(t)
	_, err := e.Execute(context.Background(), "archive_task", nil)
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestExecuteMalformedArguments(t *testing.T) {
	e, _ := newExec(t)
	_, err := e.Execute(context.Background(), ToolCreateTask, json.RawMessage(`{"title":`))
	assert.ErrorIs(t, err, ErrMalformedArguments)
}

func TestCreateTaskDefaults(t *testing.T) {
	e, s := newExec(t)

	res := run(t, e, ToolCreateTask, `{"title":"Pay invoice"}`)
	created, ok := res.Payload.(TaskResult)
	require.True(t, ok)
	assert.Equal(t, "Pay invoice", created.Task.Title)
	assert.Equal(t, task.StatusPending, created.Task.Status)
	assert.Equal(t, 0, created.Task.Priority)
	assert.Equal(t, actor.ID, created.Task.OwnerID)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, resolve.KindResolved, res.Outcome.Kind)

	stored, err := s.Get(context.Background(), actor.ID, created.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Task, stored)
}

func TestCreateTaskAlwaysPendingAndBounded(t *testing.T) {
	e, _ := newExec(t)
	for _, raw := range []string{
		`{"title":"a","priority":1000,"status":"DONE"}`,
		`{"title":"b","priority":-1}`,
		`{"title":"c","priority":"x"}`,
	} {
		res := run(t, e, ToolCreateTask, raw)
		tk := res.Payload.(TaskResult).Task
		assert.Equal(t, task.StatusPending, tk.Status, raw)
		assert.GreaterOrEqual(t, tk.Priority, task.MinPriority, raw)
		assert.LessOrEqual(t, tk.Priority, task.MaxPriority, raw)
	}
}

func TestCreateTaskInvalidTitle(t *testing.T) {
	e, s := newExec(t)

	for _, raw := range []string{`{}`, `{"title":"  "}`, ``} {
		res := run(t, e, ToolCreateTask, raw)
		fail, ok := res.Payload.(FailureResult)
		require.True(t, ok, raw)
		assert.Equal(t, FailureInvalidArgument, fail.Error)
		assert.Equal(t, "title", fail.Field)
	}
	all, _ := s.List(context.Background(), actor.ID, task.Filter{})
	assert.Empty(t, all)
}

func TestListTasks(t *testing.T) {
	e, s := newExec(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, s, "Billing Q1", base)
	seed(t, s, "Groceries", base.Add(time.Minute))
	seed(t, s, "billing Q2", base.Add(2*time.Minute))

	res := run(t, e, ToolListTasks, `{"query":"BILLING","limit":1}`)
	list := res.Payload.(ListResult)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, "billing Q2", list.Tasks[0].Title)
	assert.Nil(t, res.Outcome)

	res = run(t, e, ToolListTasks, ``)
	assert.Equal(t, 3, res.Payload.(ListResult).Count)

	res = run(t, e, ToolListTasks, `{"status":"done"}`)
	assert.Equal(t, 0, res.Payload.(ListResult).Count)
	assert.JSONEq(t, `{"ok":true,"count":0,"tasks":[]}`, res.Content())
}

func TestUpdateTask(t *testing.T) {
	e, s := newExec(t)
	tk := seed(t, s, "Pay invoice", time.Now().UTC())
	due := task.Date{Year: 2025, Month: 3, Day: 1}
	_, err := s.Update(context.Background(), actor.ID, tk.ID, task.Patch{DueDate: &due})
	require.NoError(t, err)

	// Omission leaves the due date alone.
	res := run(t, e, ToolUpdateTask, `{"id":"`+tk.ID+`","priority":5,"status":"bogus"}`)
	got := res.Payload.(TaskResult).Task
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, task.StatusPending, got.Status)
	require.NotNil(t, got.DueDate)
	assert.Equal(t, "2025-03-01", got.DueDate.String())

	// Empty string clears it.
	res = run(t, e, ToolUpdateTask, `{"id":"`+tk.ID+`","due_date":"","status":"in-progress"}`)
	got = res.Payload.(TaskResult).Task
	assert.Nil(t, got.DueDate)
	assert.Equal(t, task.StatusInProgress, got.Status)
	assert.Equal(t, "Pay invoice", got.Title)
}

func TestUpdateTaskOnlyIDTouchesNothingButUpdatedAt(t *testing.T) {
	s := store.NewMemoryStore()
	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return later })
	e := NewExecutor(s, actor)
	tk := seed(t, s, "Pay invoice", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	res := run(t, e, ToolUpdateTask, `{"id":"`+tk.ID+`"}`)
	got := res.Payload.(TaskResult).Task

	want := tk.Clone()
	want.UpdatedAt = later
	assert.Equal(t, want, got)
}

func TestUpdateTaskNotFound(t *testing.T) {
	e, _ := newExec(t)

	res := run(t, e, ToolUpdateTask, `{"id":"nope","title":"x"}`)
	fail := res.Payload.(FailureResult)
	assert.Equal(t, FailureNotFound, fail.Error)
	assert.Equal(t, "Task with id nope not found", fail.Message)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, resolve.KindNotFound, res.Outcome.Kind)

	res = run(t, e, ToolUpdateTask, `{"title":"x"}`)
	assert.Equal(t, FailureInvalidArgument, res.Payload.(FailureResult).Error)
}

func TestDeleteByID(t *testing.T) {
	e, s := newExec(t)
	tk := seed(t, s, "Pay invoice", time.Now().UTC())

	res := run(t, e, ToolDeleteTask, `{"id":"`+tk.ID+`"}`)
	assert.Equal(t, DeleteResult{OK: true, DeletedTaskID: tk.ID, Title: "Pay invoice"}, res.Payload)

	res = run(t, e, ToolDeleteTask, `{"id":"`+tk.ID+`"}`)
	assert.Equal(t, FailureNotFound, res.Payload.(FailureResult).Error)
}

func TestDeleteByQuery(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("single match deletes", func(t *testing.T) {
		e, s := newExec(t)
		target := seed(t, s, "Billing report", base)
		seed(t, s, "Groceries", base.Add(time.Minute))

		res := run(t, e, ToolDeleteTask, `{"query":"billing"}`)
		assert.Equal(t, target.ID, res.Payload.(DeleteResult).DeletedTaskID)
		assert.Equal(t, resolve.KindResolved, res.Outcome.Kind)

		left, _ := s.List(context.Background(), actor.ID, task.Filter{})
		assert.Len(t, left, 1)
	})

	t.Run("no match leaves store alone", func(t *testing.T) {
		e, s := newExec(t)
		seed(t, s, "Groceries", base)

		res := run(t, e, ToolDeleteTask, `{"query":"billing"}`)
		fail := res.Payload.(FailureResult)
		assert.Equal(t, FailureNotFound, fail.Error)
		assert.Equal(t, resolve.KindNotFound, res.Outcome.Kind)

		left, _ := s.List(context.Background(), actor.ID, task.Filter{})
		assert.Len(t, left, 1)
	})

	t.Run("many matches never guesses", func(t *testing.T) {
		e, s := newExec(t)
		older := seed(t, s, "Billing report", base)
		newer := seed(t, s, "Fix billing bug", base.Add(time.Minute))

		res := run(t, e, ToolDeleteTask, `{"query":"billing"}`)
		fail := res.Payload.(FailureResult)
		assert.Equal(t, FailureAmbiguous, fail.Error)
		assert.Equal(t, []resolve.Choice{resolve.ChoiceOf(newer), resolve.ChoiceOf(older)}, fail.Choices)
		assert.Equal(t, resolve.KindAmbiguous, res.Outcome.Kind)

		left, _ := s.List(context.Background(), actor.ID, task.Filter{})
		assert.Len(t, left, 2)
	})

	t.Run("id miss falls back to query", func(t *testing.T) {
		e, s := newExec(t)
		target := seed(t, s, "Billing report", base)

		res := run(t, e, ToolDeleteTask, `{"id":"stale-id","query":"billing"}`)
		assert.Equal(t, target.ID, res.Payload.(DeleteResult).DeletedTaskID)
	})

	t.Run("neither id nor query", func(t *testing.T) {
		e, _ := newExec(t)
		res := run(t, e, ToolDeleteTask, `{}`)
		assert.Equal(t, FailureInvalidArgument, res.Payload.(FailureResult).Error)
	})
}

// failingStore fails every call, or blocks until the context ends.
type failingStore struct {
	task.Store
	block bool
}

func (f failingStore) wait(ctx context.Context) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return errors.New("disk I/O error")
}

func (f failingStore) List(ctx context.Context, _ string, _ task.Filter) ([]*task.Task, error) {
	return nil, f.wait(ctx)
}

func (f failingStore) Create(ctx context.Context, _ *task.Task) error { return f.wait(ctx) }

func TestStoreFailureIsUpstreamUnavailable(t *testing.T) {
	e := NewExecutor(failingStore{}, actor)

	_, err := e.Execute(context.Background(), ToolCreateTask, json.RawMessage(`{"title":"x"}`))
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidArgument)
}

func TestToolTimeout(t *testing.T) {
	e := NewExecutor(failingStore{block: true}, actor, WithToolTimeout(10*time.Millisecond))

	_, err := e.Execute(context.Background(), ToolListTasks, nil)
	assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// vanishingStore removes the task just before a write lands, as a
// concurrent delete from another client would.
type vanishingStore struct {
	*store.MemoryStore
}

func (v vanishingStore) Delete(ctx context.Context, ownerID, id string) error {
	_ = v.MemoryStore.Delete(ctx, ownerID, id)
	return v.MemoryStore.Delete(ctx, ownerID, id)
}

func (v vanishingStore) Update(ctx context.Context, ownerID, id string, p task.Patch) (*task.Task, error) {
	_ = v.MemoryStore.Delete(ctx, ownerID, id)
	return v.MemoryStore.Update(ctx, ownerID, id, p)
}

func TestConcurrentRemovalIsNotFound(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		tool string
		args func(id string) string
	}{
		{"delete by id", ToolDeleteTask, func(id string) string { return `{"id":"` + id + `"}` }},
		{"delete by query", ToolDeleteTask, func(string) string { return `{"query":"billing"}` }},
		{"update", ToolUpdateTask, func(id string) string { return `{"id":"` + id + `","title":"Renamed"}` }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			tk := seed(t, s, "Billing report", base)
			e := NewExecutor(vanishingStore{s}, actor)

			res, err := e.Execute(context.Background(), tt.tool, json.RawMessage(tt.args(tk.ID)))
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.False(t, res.IsSuccess())

			var body map[string]any
			require.NoError(t, json.Unmarshal([]byte(res.Content()), &body))
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, FailureNotFound, body["error"])
			assert.Equal(t, "id", body["field"])
			assert.Equal(t, "Task with id "+tk.ID+" not found", body["message"])
			require.NotNil(t, res.Outcome)
			assert.Equal(t, resolve.KindNotFound, res.Outcome.Kind)
		})
	}
}
