package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/resolve"
	"taskpilot/internal/store"
	"taskpilot/internal/task"
	"taskpilot/internal/tools"
	"taskpilot/internal/types"
	"taskpilot/internal/usage"
)

var actor = task.DemoActor()

func newDriver(t *testing.T, llm *MockLLMClient, cfg Config) (*Driver, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewDriver(llm, tools.NewExecutor(s, actor), cfg), s
}

func listAll(t *testing.T, s task.Store) []*task.Task {
	t.Helper()
	all, err := s.List(context.Background(), actor.ID, task.Filter{})
	require.NoError(t, err)
	return all
}

func TestRunCreatesTaskWithDefaults(t *testing.T) {
	llm := &MockLLMClient{Responses: []*types.LLMToolResponse{
		toolTurn("call_1", tools.ToolCreateTask, `{"title":"Pay invoice"}`),
		textTurn(`Created "Pay invoice".`),
	}}
	d, s := newDriver(t, llm, Config{})

	res, err := d.Run(context.Background(), "create a task called Pay invoice")
	require.NoError(t, err)

	assert.Equal(t, `Created "Pay invoice".`, res.Text)
	assert.Equal(t, 2, res.ModelCalls)
	assert.Equal(t, 1, res.ToolCalls)
	assert.False(t, res.Exhausted)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, resolve.KindResolved, res.Outcome.Kind)

	all := listAll(t, s)
	require.Len(t, all, 1)
	assert.Equal(t, "Pay invoice", all[0].Title)
	assert.Equal(t, task.StatusPending, all[0].Status)
	assert.Equal(t, task.DefaultPriority, all[0].Priority)
	assert.Nil(t, all[0].DueDate)
	assert.Nil(t, all[0].Description)

	// The second call saw the call and its paired result.
	require.Len(t, llm.Seen, 2)
	second := llm.Seen[1]
	require.Len(t, second, 3)
	assert.Equal(t, types.RoleAssistant, second[1].Role)
	assert.Equal(t, types.RoleTool, second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)
	assert.Contains(t, second[2].Content, `"title":"Pay invoice"`)

	assert.Equal(t, DefaultSystemPrompt, llm.Systems[0])
	assert.Len(t, llm.ToolSets[0], 4)
	assert.Len(t, res.History, 4)
}

func TestRunAmbiguousDeleteAsksAndKeepsTasks(t *testing.T) {
	llm := &MockLLMClient{Responses: []*types.LLMToolResponse{
		toolTurn("call_1", tools.ToolDeleteTask, `{"query":"billing"}`),
		textTurn("I found two billing tasks. Which one should I delete?"),
	}}
	d, s := newDriver(t, llm, Config{})
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, title := range []string{"Billing report", "Fix billing bug"} {
		tk := task.NewTask(actor.ID, title)
		tk.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Create(context.Background(), tk))
	}

	res, err := d.Run(context.Background(), "delete the billing task")
	require.NoError(t, err)

	assert.Contains(t, res.Text, "Which one")
	require.NotNil(t, res.Outcome)
	assert.Equal(t, resolve.KindAmbiguous, res.Outcome.Kind)
	require.Len(t, res.Outcome.Choices, 2)
	assert.Equal(t, "Fix billing bug", res.Outcome.Choices[0].Title)
	assert.Len(t, listAll(t, s), 2)

	observation := llm.Seen[1][2].Content
	assert.Contains(t, observation, `"error":"ambiguous"`)
	assert.Contains(t, observation, "Nothing was deleted.")
}

func TestRunStopsAtTurnBudget(t *testing.T) {
	llm := &MockLLMClient{Responses: []*types.LLMToolResponse{
		toolTurn("again", tools.ToolListTasks, `{}`),
	}}
	d, _ := newDriver(t, llm, Config{})

	res, err := d.Run(context.Background(), "keep listing")
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxTurns, llm.Calls)
	assert.Equal(t, DefaultMaxTurns, res.ModelCalls)
	assert.Equal(t, DefaultMaxTurns, res.ToolCalls)
	assert.True(t, res.Exhausted)
	assert.Empty(t, res.Text)
}

func TestRunExhaustionKeepsLastText(t *testing.T) {
	turn := toolTurn("", tools.ToolListTasks, `{}`)
	turn.Text = "Still looking."
	llm := &MockLLMClient{Responses: []*types.LLMToolResponse{turn}}
	d, _ := newDriver(t, llm, Config{MaxTurns: 2})

	res, err := d.Run(context.Background(), "find it")
	require.NoError(t, err)
	assert.Equal(t, 2, llm.Calls)
	assert.True(t, res.Exhausted)
	assert.Equal(t, "Still looking.", res.Text)
}

func TestRunAnswerOnLastTurnIsNotExhausted(t *testing.T) {
	llm := &MockLLMClient{Responses: []*types.LLMToolResponse{
		toolTurn("a", tools.ToolListTasks, `{}`),
		textTurn("You have no tasks."),
	}}
	d, _ := newDriver(t, llm, Config{MaxTurns: 2})

	res, err := d.Run(context.Background(), "what's on my list")
	require.NoError(t, err)
	assert.False(t, res.Exhausted)
	assert.Equal(t, "You have no tasks.", res.Text)
}

func TestRunRecordsUsage(t *testing.T) {
	first := toolTurn("a", tools.ToolListTasks, `{}`)
	first.Usage = types.UsageMetadata{InputTokens: 100, OutputTokens: 20, TotalTokens: 120}
	final := textTurn("Nothing yet.")
	final.Usage = types.UsageMetadata{InputTokens: 150, OutputTokens: 10, TotalTokens: 160}
	llm := &MockLLMClient{Responses: []*types.LLMToolResponse{first, final}}

	tracker := usage.NewMemoryTracker()
	d, _ := newDriver(t, llm, Config{Provider: "openai", Model: "gpt-4o-mini", Usage: tracker})

	_, err := d.Run(context.Background(), "what do I have")
	require.NoError(t, err)

	stats := tracker.Stats()
	assert.Equal(t, int64(1), stats.Requests)
	assert.Equal(t, int64(2), stats.ModelCalls)
	assert.Equal(t, usage.TokenCounts{Input: 250, Output: 30, Total: 280}, stats.ByModel["gpt-4o-mini"])
	assert.Equal(t, int64(280), stats.ByProvider["openai"].Total)
}

func TestRunSynthesizesMissingCallIDs(t *testing.T) {
	multi := &types.LLMToolResponse{ToolCalls: []types.ToolCall{
		{Name: tools.ToolCreateTask, Arguments: []byte(`{"title":"first"}`)},
		{Name: tools.ToolCreateTask, Arguments: []byte(`{"title":"second"}`)},
	}}
	llm := &MockLLMClient{Responses: []*types.LLMToolResponse{multi, textTurn("Done.")}}
	d, s := newDriver(t, llm, Config{})

	res, err := d.Run(context.Background(), "add first and second")
	require.NoError(t, err)
	assert.Equal(t, 2, res.ToolCalls)

	history := res.History
	require.Len(t, history, 5)
	calls := history[1].ToolCalls
	require.Len(t, calls, 2)
	assert.NotEmpty(t, calls[0].ID)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
	assert.Equal(t, calls[0].ID, history[2].ToolCallID)
	assert.Equal(t, calls[1].ID, history[3].ToolCallID)

	// Executed in emitted order: "second" was created last, so it lists first.
	all := listAll(t, s)
	require.Len(t, all, 2)
	assert.Equal(t, "second", all[0].Title)
}

func TestRunReplacesDuplicateCallIDs(t *testing.T) {
	dup := &types.LLMToolResponse{ToolCalls: []types.ToolCall{
		{ID: "same", Name: tools.ToolCreateTask, Arguments: []byte(`{"title":"first"}`)},
		{ID: "same", Name: tools.ToolCreateTask, Arguments: []byte(`{"title":"second"}`)},
	}}
	llm := &MockLLMClient{Responses: []*types.LLMToolResponse{
		dup,
		toolTurn("same", tools.ToolListTasks, `{}`),
		textTurn("Done."),
	}}
	d, s := newDriver(t, llm, Config{})

	res, err := d.Run(context.Background(), "add first and second, then list")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ToolCalls)
	assert.Len(t, listAll(t, s), 2)

	history := res.History
	require.Len(t, history, 7)
	first := history[1].ToolCalls
	require.Len(t, first, 2)
	assert.Equal(t, "same", first[0].ID)
	assert.NotEqual(t, first[0].ID, first[1].ID)
	assert.Equal(t, first[0].ID, history[2].ToolCallID)
	assert.Equal(t, first[1].ID, history[3].ToolCallID)

	// An id reused in a later turn is also replaced.
	later := history[4].ToolCalls
	require.Len(t, later, 1)
	assert.NotEqual(t, "same", later[0].ID)
	assert.NotEqual(t, first[1].ID, later[0].ID)
	assert.Equal(t, later[0].ID, history[5].ToolCallID)

	seen := map[string]int{}
	for _, m := range history {
		if m.Role == types.RoleTool {
			seen[m.ToolCallID]++
		}
	}
	assert.Len(t, seen, 3)
}

func TestRunDomainFailureIsFedBack(t *testing.T) {
	llm := &MockLLMClient{Responses: []*types.LLMToolResponse{
		toolTurn("c1", tools.ToolCreateTask, `{}`),
		textTurn("What should the task be called?"),
	}}
	d, _ := newDriver(t, llm, Config{})

	res, err := d.Run(context.Background(), "create a task")
	require.NoError(t, err)
	assert.Contains(t, llm.Seen[1][2].Content, `"field":"title"`)
	assert.Nil(t, res.Outcome)
}

func TestRunEmptyInput(t *testing.T) {
	llm := &MockLLMClient{}
	d, _ := newDriver(t, llm, Config{})

	_, err := d.Run(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Zero(t, llm.Calls)
}

func TestRunModelFailure(t *testing.T) {
	t.Run("transport error is upstream unavailable", func(t *testing.T) {
		llm := &MockLLMClient{Err: errors.New("connection reset")}
		d, _ := newDriver(t, llm, Config{})

		_, err := d.Run(context.Background(), "list my tasks")
		assert.ErrorIs(t, err, types.ErrUpstreamUnavailable)
		out := resolve.FromError(err)
		assert.Equal(t, resolve.KindError, out.Kind)
		assert.True(t, out.Retryable)
		assert.Equal(t, resolve.MsgGeneric, out.Message)
	})

	t.Run("rate limit on a later turn", func(t *testing.T) {
		llm := &MockLLMClient{
			Responses: []*types.LLMToolResponse{toolTurn("c1", tools.ToolCreateTask, `{"title":"x"}`)},
			Err:       fmt.Errorf("%w: %w", types.ErrUpstreamUnavailable, types.ErrRateLimited),
			ErrOnCall: 2,
		}
		d, s := newDriver(t, llm, Config{})

		_, err := d.Run(context.Background(), "add x")
		require.Error(t, err)
		assert.Equal(t, resolve.MsgRateLimit, resolve.FromError(err).Message)
		assert.Len(t, listAll(t, s), 1)
	})
}

func TestRunUnknownToolAborts(t *testing.T) {
	llm := &MockLLMClient{Responses: []*types.LLMToolResponse{
		toolTurn("c1", "archive_task", `{}`),
		textTurn("unreachable"),
	}}
	d, _ := newDriver(t, llm, Config{})

	_, err := d.Run(context.Background(), "archive everything")
	assert.ErrorIs(t, err, tools.ErrUnknownOperation)
	assert.Equal(t, 1, llm.Calls)
}

func TestRunMalformedArgumentsAborts(t *testing.T) {
	llm := &MockLLMClient{Responses: []*types.LLMToolResponse{
		toolTurn("c1", tools.ToolCreateTask, `{"title":`),
	}}
	d, _ := newDriver(t, llm, Config{})

	_, err := d.Run(context.Background(), "add")
	assert.ErrorIs(t, err, tools.ErrMalformedArguments)
}

func TestNewDriverDefaults(t *testing.T) {
	d := NewDriver(&MockLLMClient{}, tools.NewExecutor(store.NewMemoryStore(), actor), Config{MaxTurns: -1, SystemPrompt: " "})
	assert.Equal(t, DefaultMaxTurns, d.MaxTurns())
	assert.Equal(t, DefaultSystemPrompt, d.cfg.SystemPrompt)
	assert.Equal(t, Config{MaxTurns: 6, SystemPrompt: DefaultSystemPrompt}, DefaultConfig())
}
