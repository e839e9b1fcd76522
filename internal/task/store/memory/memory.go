// Package memory provides an in-memory task Store implementation, used in
// development and in unit tests for the components layered above task.Manager.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/task"
)

// Store is an in-memory implementation of task.Store. It is safe for
// concurrent use.
type Store struct {
	mu        sync.RWMutex
	tasks     map[string]*types.Task
	timelines map[string][]types.TaskTimelineItem
}

// Compile-time check that Store implements task.Store.
var _ task.Store = (*Store)(nil)

// New creates a new in-memory task store.
func New() *Store {
	return &Store{
		tasks:     make(map[string]*types.Task),
		timelines: make(map[string][]types.TaskTimelineItem),
	}
}

// Create persists a newly-created task. It returns an error if a task with
// the same ID already exists.
func (s *Store) Create(_ context.Context, t *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("task %q already exists", t.ID)
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

// Get retrieves a task by ID.
func (s *Store) Get(_ context.Context, taskID string) (*types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, task.ErrNotFound
	}
	cp := *t
	cp.History = append([]*types.Message(nil), t.History...)
	return &cp, nil
}

// Update replaces the persisted task state.
func (s *Store) Update(_ context.Context, t *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return task.ErrNotFound
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

// AppendTimeline appends an audit-log entry for a task.
func (s *Store) AppendTimeline(_ context.Context, item types.TaskTimelineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timelines[item.TaskID] = append(s.timelines[item.TaskID], item)
	return nil
}

// Timeline returns the full audit log recorded for a task, for tests and
// diagnostics.
func (s *Store) Timeline(taskID string) []types.TaskTimelineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.TaskTimelineItem(nil), s.timelines[taskID]...)
}
