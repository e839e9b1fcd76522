package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/apierr"
)

// Manager is the TaskManager of spec.md §4.F: the write-side gateway to the
// task store. It serializes writes for a given task_id behind a per-task
// mutex so concurrent message appends and status applications from the
// aggregator and the executor bridge never interleave (spec.md §5: "Task
// store writes for a given task_id are serialized by the TaskManager owning
// that task").
type Manager struct {
	store Store

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewManager constructs a Manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store, locks: make(map[string]*sync.Mutex)}
}

func (m *Manager) lockFor(taskID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[taskID] = l
	}
	return l
}

// GetTask retrieves the current task state.
func (m *Manager) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	t, err := m.store.Get(ctx, taskID)
	if err != nil {
		if err == ErrNotFound {
			return nil, apierr.New(apierr.TaskNotFound, fmt.Sprintf("task %q not found", taskID))
		}
		return nil, apierr.Wrap(apierr.Internal, "load task", err)
	}
	return t, nil
}

// CreateTask creates a new task with the given initial status, the entry
// point for any task_id with no prior history (spec.md §3.3).
func (m *Manager) CreateTask(ctx context.Context, taskID, contextID string, status types.TaskStatus) (*types.Task, error) {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	t := &types.Task{
		ID:        taskID,
		ContextID: contextID,
		Status:    status,
		CreatedAt: status.Timestamp,
		UpdatedAt: status.Timestamp,
	}
	if err := m.store.Create(ctx, t); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "create task", err)
	}
	if err := m.store.AppendTimeline(ctx, types.TaskTimelineItem{
		Kind:      types.TimelineStatusUpdate,
		TaskID:    taskID,
		Status:    &status,
		CreatedAt: status.Timestamp,
	}); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "append timeline", err)
	}
	return t, nil
}

// UpdateWithMessage appends msg to the task's history and refreshes
// updated_at (spec.md §4.F). Messages are immutable once written.
func (m *Manager) UpdateWithMessage(ctx context.Context, msg *types.Message) (*types.Task, error) {
	lock := m.lockFor(msg.TaskID)
	lock.Lock()
	defer lock.Unlock()

	t, err := m.store.Get(ctx, msg.TaskID)
	if err != nil {
		if err == ErrNotFound {
			return nil, apierr.New(apierr.TaskNotFound, fmt.Sprintf("task %q not found", msg.TaskID))
		}
		return nil, apierr.Wrap(apierr.Internal, "load task", err)
	}
	t.History = append(t.History, msg)
	t.UpdatedAt = msg.CreatedAt
	if err := m.store.Update(ctx, t); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "update task", err)
	}
	if err := m.store.AppendTimeline(ctx, types.TaskTimelineItem{
		Kind:      types.TimelineMessageAdded,
		TaskID:    msg.TaskID,
		Message:   msg,
		CreatedAt: msg.CreatedAt,
	}); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "append timeline", err)
	}
	return t, nil
}

// ApplyEvent applies a StatusUpdate event to the persisted task. Per the
// original implementation's dual-broadcast behavior (see SPEC_FULL.md §12
// item 1), the persisted task status never carries the stream-only `final`
// marker: final is a property of the queue event, not of durable task
// state. ArtifactUpdate and MessageAppended events are not applied here —
// MessageAppended flows through UpdateWithMessage, and artifacts are not
// part of this system's persisted Task aggregate (spec.md §3.1).
func (m *Manager) ApplyEvent(ctx context.Context, ev types.Event) (*types.Task, error) {
	if ev.Kind != types.EventStatusUpdate {
		return m.GetTask(ctx, ev.TaskID)
	}
	lock := m.lockFor(ev.TaskID)
	lock.Lock()
	defer lock.Unlock()

	t, err := m.store.Get(ctx, ev.TaskID)
	if err != nil {
		if err == ErrNotFound {
			return nil, apierr.New(apierr.TaskNotFound, fmt.Sprintf("task %q not found", ev.TaskID))
		}
		return nil, apierr.Wrap(apierr.Internal, "load task", err)
	}
	t.Status = *ev.Status
	t.UpdatedAt = ev.Status.Timestamp
	if err := m.store.Update(ctx, t); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "update task", err)
	}
	if err := m.store.AppendTimeline(ctx, types.TaskTimelineItem{
		Kind:      types.TimelineStatusUpdate,
		TaskID:    ev.TaskID,
		Status:    ev.Status,
		CreatedAt: ev.Status.Timestamp,
	}); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "append timeline", err)
	}
	return t, nil
}
