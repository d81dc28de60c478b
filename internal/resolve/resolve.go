// Package resolve turns matched tasks and boundary failures into the outcomes
// reported back to the model and the caller.
package resolve

import (
	"errors"
	"strings"

	"taskpilot/internal/task"
	"taskpilot/internal/types"
)

// Kind tags an Outcome.
type Kind string

const (
	KindResolved  Kind = "resolved"
	KindAmbiguous Kind = "ambiguous"
	KindNotFound  Kind = "not_found"
	KindError     Kind = "error"
)

// MaxChoices caps the candidate list of an ambiguous outcome.
const MaxChoices = 5

// User-facing messages.
const (
	MsgNotFound  = "I couldn't find a matching task."
	MsgAmbiguous = "I found multiple matching tasks. Which one do you mean?"
	MsgRateLimit = "The AI is busy right now (rate limit). Please try again in a moment."
	MsgGeneric   = "Something went wrong while contacting the AI. Please try again."
)

// Choice is the reduced view of a candidate task.
type Choice struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Status task.Status `json:"status"`
}

// ChoiceOf reduces t to a Choice.
func ChoiceOf(t *task.Task) Choice {
	return Choice{ID: t.ID, Title: t.Title, Status: t.Status}
}

// Outcome is the tagged result of resolving a reference or a failed request.
// Task is set only for KindResolved, Choices only for KindAmbiguous.
type Outcome struct {
	Kind      Kind     `json:"kind"`
	Task      *Choice  `json:"task,omitempty"`
	Choices   []Choice `json:"choices,omitempty"`
	Message   string   `json:"message,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
}

// Resolve classifies candidates, which must already be in search order.
// It never picks among several candidates.
func Resolve(candidates []*task.Task) Outcome {
	switch len(candidates) {
	case 0:
		return Outcome{Kind: KindNotFound, Message: MsgNotFound}
	case 1:
		c := ChoiceOf(candidates[0])
		return Outcome{Kind: KindResolved, Task: &c}
	}

	n := len(candidates)
	if n > MaxChoices {
		n = MaxChoices
	}
	choices := make([]Choice, n)
	for i := 0; i < n; i++ {
		choices[i] = ChoiceOf(candidates[i])
	}
	return Outcome{Kind: KindAmbiguous, Message: MsgAmbiguous, Choices: choices}
}

// FromError maps a failed request onto a retryable error outcome without leaking detail.
func FromError(err error) Outcome {
	if IsRateLimit(err) {
		return Outcome{Kind: KindError, Message: MsgRateLimit, Retryable: true}
	}
	return Outcome{Kind: KindError, Message: MsgGeneric, Retryable: true}
}

// Fatal builds a non-retryable error outcome, e.g. for missing configuration.
func Fatal(msg string) Outcome {
	return Outcome{Kind: KindError, Message: msg}
}

// IsRateLimit reports whether err looks like provider throttling.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrRateLimited) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "429") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests")
}
