// Package task implements the Task / Message data model and the
// TaskManager write-side gateway to task storage (spec.md §4.F).
package task

import (
	"context"
	"errors"

	"github.com/agentbridge/control-plane/internal/a2a/types"
)

// ErrNotFound is returned by a Store when no task exists for the given id.
var ErrNotFound = errors.New("task: not found")

// Store persists Task aggregates and their append-only timeline. Task-store
// writes for a given task_id are serialized by the TaskManager that owns
// that task (spec.md §5), so implementations need not provide their own
// per-task locking beyond what's required for concurrent-id safety.
type Store interface {
	// Create persists a newly-created task. Returns an error if a task
	// with the same ID already exists.
	Create(ctx context.Context, t *types.Task) error
	// Get retrieves a task by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, taskID string) (*types.Task, error)
	// Update replaces the persisted task state.
	Update(ctx context.Context, t *types.Task) error
	// AppendTimeline appends an audit-log entry for a task.
	AppendTimeline(ctx context.Context, item types.TaskTimelineItem) error
}
