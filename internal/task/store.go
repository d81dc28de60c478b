package task

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when no task with the given id exists for the actor.
var ErrNotFound = errors.New("task not found")

// Filter narrows List. Zero value lists everything.
type Filter struct {
	Status *Status
	Query  string // case-insensitive substring over title or description
	Limit  int    // <= 0 means no limit
}

// Accepts reports whether t passes the status and query parts of f.
func (f Filter) Accepts(t *Task) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	return t.Matches(f.Query)
}

// Patch is a partial update.
// nil pointer => no change.
// Description pointing at "" clears it; ClearDueDate clears the due date.
type Patch struct {
	Title        *string
	Description  *string
	Priority     *int
	DueDate      *Date
	ClearDueDate bool
	Status       *Status
}

// Apply mutates t in place and stamps UpdatedAt with now. Status values outside
// the closed set and empty titles are ignored.
func (p Patch) Apply(t *Task, now time.Time) {
	if p.Title != nil {
		if title := strings.TrimSpace(*p.Title); title != "" {
			t.Title = title
		}
	}
	if p.Description != nil {
		if d := strings.TrimSpace(*p.Description); d == "" {
			t.Description = nil
		} else {
			t.Description = &d
		}
	}
	if p.Priority != nil {
		t.Priority = ClampPriority(*p.Priority)
	}
	switch {
	case p.ClearDueDate:
		t.DueDate = nil
	case p.DueDate != nil:
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.Status != nil && p.Status.Valid() {
		t.Status = *p.Status
	}
	t.UpdatedAt = now
}

// Store is the task persistence boundary. Every call is scoped to an owner;
// a task owned by someone else is indistinguishable from a missing one.
// List and Search return newest-created first.
type Store interface {
	List(ctx context.Context, ownerID string, f Filter) ([]*Task, error)
	Get(ctx context.Context, ownerID, id string) (*Task, error)
	Create(ctx context.Context, t *Task) error
	Update(ctx context.Context, ownerID, id string, p Patch) (*Task, error)
	Delete(ctx context.Context, ownerID, id string) error
	Search(ctx context.Context, ownerID, text string) ([]*Task, error)
	Close() error
}

// Actor is the single user every request runs as.
type Actor struct {
	ID    string `json:"id" yaml:"id" toml:"id"`
	Email string `json:"email" yaml:"email" toml:"email"`
	Name  string `json:"name" yaml:"name" toml:"name"`
}

// DemoActor is the fixed actor used when no other is configured.
func DemoActor() Actor {
	return Actor{ID: "demo-user-id", Email: "demo@aitaskplanner.local", Name: "Demo User"}
}

// ActorStore is implemented by stores that keep a users table.
type ActorStore interface {
	// EnsureActor creates the actor if absent and leaves an existing one untouched.
	EnsureActor(ctx context.Context, a Actor) error
}
