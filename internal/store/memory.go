package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"taskpilot/internal/logging"
	"taskpilot/internal/task"
)

type memEntry struct {
	task *task.Task
	seq  uint64
}

// MemoryStore is an in-process task.Store. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	tasks  map[string]*memEntry
	actors map[string]task.Actor
	seq    uint64
	now    func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[string]*memEntry),
		actors: make(map[string]task.Actor),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used to stamp updates.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// EnsureActor records the actor if it is not already known.
func (s *MemoryStore) EnsureActor(ctx context.Context, a task.Actor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actors[a.ID]; !ok {
		s.actors[a.ID] = a
		logging.Store("created actor %s (%s)", a.ID, a.Email)
	}
	return nil
}

func (s *MemoryStore) Create(ctx context.Context, t *task.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == nil || t.ID == "" {
		return fmt.Errorf("create: task id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("create: task with ID %s already exists", t.ID)
	}
	s.seq++
	s.tasks[t.ID] = &memEntry{task: t.Clone(), seq: s.seq}
	logging.StoreDebug("created task %s", t.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, ownerID, id string) (*task.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[id]
	if !ok || e.task.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: task with ID %s not found", task.ErrNotFound, id)
	}
	return e.task.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, ownerID, id string, p task.Patch) (*task.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok || e.task.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: task with ID %s not found", task.ErrNotFound, id)
	}
	p.Apply(e.task, s.now())
	return e.task.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, ownerID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok || e.task.OwnerID != ownerID {
		return fmt.Errorf("%w: task with ID %s not found", task.ErrNotFound, id)
	}
	delete(s.tasks, id)
	logging.StoreDebug("deleted task %s", id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, ownerID string, f task.Filter) ([]*task.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched := make([]memEntry, 0, len(s.tasks))
	for _, e := range s.tasks {
		if e.task.OwnerID == ownerID && f.Accepts(e.task) {
			matched = append(matched, memEntry{task: e.task.Clone(), seq: e.seq})
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.task.CreatedAt.Equal(b.task.CreatedAt) {
			return a.task.CreatedAt.After(b.task.CreatedAt)
		}
		return a.seq > b.seq
	})
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	out := make([]*task.Task, len(matched))
	for i, e := range matched {
		out[i] = e.task
	}
	return out, nil
}

func (s *MemoryStore) Search(ctx context.Context, ownerID, text string) ([]*task.Task, error) {
	if strings.TrimSpace(text) == "" {
		return []*task.Task{}, nil
	}
	return s.List(ctx, ownerID, task.Filter{Query: text})
}

func (s *MemoryStore) Close() error { return nil }

var (
	_ task.Store      = (*MemoryStore)(nil)
	_ task.ActorStore = (*MemoryStore)(nil)
)
