package tools

import (
	"errors"
	"fmt"

	"taskpilot/internal/resolve"
	"taskpilot/internal/task"
	"taskpilot/internal/types"
)

// Failure codes carried in FailureResult.Error.
const (
	FailureInvalidArgument = "invalid_argument"
	FailureNotFound        = "not_found"
	FailureAmbiguous       = "ambiguous"
)

// ListResult is the list_tasks observation.
type ListResult struct {
	OK    bool         `json:"ok"`
	Count int          `json:"count"`
	Tasks []*task.Task `json:"tasks"`
}

// TaskResult is the create_task and update_task observation.
type TaskResult struct {
	OK   bool       `json:"ok"`
	Task *task.Task `json:"task"`
}

// DeleteResult is the successful delete_task observation.
type DeleteResult struct {
	OK            bool   `json:"ok"`
	DeletedTaskID string `json:"deleted_task_id"`
	Title         string `json:"title,omitempty"`
}

// FailureResult is a domain-level failure relayed to the model so it can retry or ask the user.
type FailureResult struct {
	OK      bool             `json:"ok"`
	Error   string           `json:"error"`
	Field   string           `json:"field,omitempty"`
	Message string           `json:"message"`
	Choices []resolve.Choice `json:"choices,omitempty"`
}

func notFoundByID(id string) Observation {
	msg := fmt.Sprintf("Task with id %s not found", id)
	return Observation{
		Payload: FailureResult{Error: FailureNotFound, Field: "id", Message: msg},
		Outcome: &resolve.Outcome{Kind: resolve.KindNotFound, Message: resolve.MsgNotFound},
	}
}

func resolvedTask(t *task.Task) *resolve.Outcome {
	c := resolve.ChoiceOf(t)
	return &resolve.Outcome{Kind: resolve.KindResolved, Task: &c}
}

// observeError turns domain errors into observations. Anything else is a hard
// error; store failures are marked as upstream unavailable.
func observeError(toolName string, err error) (Observation, error) {
	var argErr *ArgumentError
	switch {
	case errors.As(err, &argErr):
		return Observation{Payload: FailureResult{
			Error:   FailureInvalidArgument,
			Field:   argErr.Field,
			Message: fmt.Sprintf("%s %s", argErr.Field, argErr.Reason),
		}}, nil
	case errors.Is(err, task.ErrNotFound):
		return Observation{
			Payload: FailureResult{Error: FailureNotFound, Message: err.Error()},
			Outcome: &resolve.Outcome{Kind: resolve.KindNotFound, Message: resolve.MsgNotFound},
		}, nil
	case errors.Is(err, ErrUnknownOperation), errors.Is(err, ErrMalformedArguments), errors.Is(err, types.ErrUpstreamUnavailable):
		return Observation{}, err
	default:
		return Observation{}, fmt.Errorf("%w: %s: %w", types.ErrUpstreamUnavailable, toolName, err)
	}
}
