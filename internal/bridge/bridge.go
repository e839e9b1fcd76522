package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/apierr"
	"github.com/agentbridge/control-plane/internal/queue"
	"github.com/agentbridge/control-plane/internal/task"
	"github.com/agentbridge/control-plane/internal/telemetry"
)

const (
	// WorkflowName is the logical workflow registered for every task.
	WorkflowName = "agent_task"
	// TaskQueue is the engine task queue workflows are started on.
	TaskQueue = "agent-task-queue"
	// NewInputSignal is the signal name the bridge resolves to unblock a
	// running workflow's new_input_promise awakeable (spec.md §4.I).
	NewInputSignal = "new_input_promise"
)

// RequestContext is the input the Request Handler builds for the bridge on
// every message/send (spec.md §4.G step 3, §4.I).
type RequestContext struct {
	TaskID    string
	ContextID string
	Message   *types.Message
}

// Input is the payload handed to the registered workflow for a new task.
type Input struct {
	TaskID    string
	ContextID string
	Message   *types.Message
}

// Bridge implements the Agent Executor Bridge (spec.md §4.I).
type Bridge struct {
	eng   Engine
	tasks *task.Manager
	log   telemetry.Logger

	mu      sync.Mutex
	handles map[string]WorkflowHandle
}

// New constructs a Bridge. eng is the workflow engine port; tasks is used to
// record the Submitted→Working transition when a new workflow starts.
func New(eng Engine, tasks *task.Manager, log telemetry.Logger) *Bridge {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Bridge{eng: eng, tasks: tasks, log: log, handles: make(map[string]WorkflowHandle)}
}

// Execute runs rc to completion: starting a new workflow for a task that has
// none registered, or resolving the new-input awakeable of an already
// running one. q is the task's EventQueue; for a new task Execute subscribes
// to it before invoking the engine, and that subscription only watches for
// the task's final StatusUpdate in order to drop the workflow handle. Events
// the workflow emits are not forwarded into q.
func (b *Bridge) Execute(ctx context.Context, q *queue.EventQueue, rc RequestContext) error {
	b.mu.Lock()
	_, running := b.handles[rc.TaskID]
	b.mu.Unlock()

	if running {
		return b.resolveExisting(ctx, rc)
	}
	return b.startNew(ctx, q, rc)
}

func (b *Bridge) startNew(ctx context.Context, q *queue.EventQueue, rc RequestContext) error {
	sub := q.Subscribe()
	go b.watchForCompletion(rc.TaskID, sub)

	handle, err := b.eng.StartWorkflow(ctx, WorkflowStartRequest{
		ID:        rc.TaskID,
		Workflow:  WorkflowName,
		TaskQueue: TaskQueue,
		Input:     Input{TaskID: rc.TaskID, ContextID: rc.ContextID, Message: rc.Message},
	})
	if err != nil {
		sub.Close()
		return apierr.Wrap(apierr.Internal, "start workflow", err)
	}

	b.mu.Lock()
	b.handles[rc.TaskID] = handle
	b.mu.Unlock()

	working := types.TaskStatus{State: types.TaskWorking, Timestamp: time.Now().UTC()}
	if _, err := b.tasks.ApplyEvent(ctx, types.StatusUpdateEvent(rc.ContextID, rc.TaskID, working, false)); err != nil {
		return err
	}
	q.Enqueue(types.StatusUpdateEvent(rc.ContextID, rc.TaskID, working, false))

	var result any
	if err := handle.Wait(ctx, &result); err != nil {
		return apierr.Wrap(apierr.Internal, "await workflow", err)
	}
	return nil
}

func (b *Bridge) resolveExisting(ctx context.Context, rc RequestContext) error {
	b.mu.Lock()
	handle, ok := b.handles[rc.TaskID]
	b.mu.Unlock()
	if !ok {
		return apierr.New(apierr.Internal, fmt.Sprintf("task %q has no running workflow to resolve", rc.TaskID))
	}
	if err := handle.Signal(ctx, NewInputSignal, nil); err != nil {
		return apierr.Wrap(apierr.Internal, "resolve new-input promise", err)
	}
	return nil
}

// Cancel requests cancellation of the workflow registered for taskID, if
// any. A task with no running workflow (already finished, or never started)
// is a no-op.
func (b *Bridge) Cancel(ctx context.Context, taskID string) error {
	b.mu.Lock()
	handle, ok := b.handles[taskID]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if err := handle.Cancel(ctx); err != nil {
		return apierr.Wrap(apierr.Internal, "cancel workflow", err)
	}
	return nil
}

// watchForCompletion drops the bridge's handle for taskID once the task
// reaches its final StatusUpdate, so a later message/send for the same
// task_id (after it somehow re-opens, e.g. a fresh Submitted task reusing an
// id) does not mistake a stale handle for a running workflow.
func (b *Bridge) watchForCompletion(taskID string, sub *queue.Receiver) {
	defer sub.Close()
	for ev := range sub.Events() {
		if ev.Kind == types.EventStatusUpdate && ev.Final {
			b.mu.Lock()
			delete(b.handles, taskID)
			b.mu.Unlock()
			return
		}
	}
}
