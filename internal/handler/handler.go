// Package handler implements the Request Handler of spec.md §4.G: the
// public façade for every A2A method. It enforces the single-executor
// invariant (I1), rejects further sends on terminal tasks (invariant 3),
// and owns the exact producer/queue/aggregator cleanup ordering the
// original implementation relies on (SPEC_FULL.md §12 item 2).
package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/aggregator"
	"github.com/agentbridge/control-plane/internal/apierr"
	"github.com/agentbridge/control-plane/internal/bridge"
	"github.com/agentbridge/control-plane/internal/queue"
	"github.com/agentbridge/control-plane/internal/task"
	"github.com/agentbridge/control-plane/internal/telemetry"
)

// Executor is the subset of the Agent Executor Bridge (spec.md §4.I) the
// Request Handler depends on.
type Executor interface {
	Execute(ctx context.Context, q *queue.EventQueue, rc bridge.RequestContext) error
	Cancel(ctx context.Context, taskID string) error
}

// PushConfigStore persists PushNotificationConfig rows (spec.md §3.1). A nil
// store on Handler makes the push-notification-config methods respond with
// unsupported-operation, per spec.md §4.G.
type PushConfigStore interface {
	Set(ctx context.Context, cfg *types.PushNotificationConfig) error
	Get(ctx context.Context, taskID, configID string) (*types.PushNotificationConfig, error)
	List(ctx context.Context, taskID string) ([]*types.PushNotificationConfig, error)
	Delete(ctx context.Context, taskID, configID string) error
}

// Pusher delivers a terminal task to its configured callbacks (spec.md
// §4.H). Notify must not block the caller on delivery failures; Delivery
// failures are logged and surfaced only in observability.
type Pusher interface {
	Notify(ctx context.Context, t *types.Task, configs []*types.PushNotificationConfig)
}

// runningAgent tracks one in-flight producer for the single-executor
// invariant (I1).
type runningAgent struct {
	done chan struct{}
	err  error
}

// Handler is the Request Handler of spec.md §4.G.
type Handler struct {
	tasks  *task.Manager
	queues *queue.Manager
	exec   Executor
	push   PushConfigStore
	pusher Pusher
	log    telemetry.Logger

	mu          sync.Mutex
	aggregators map[string]*aggregator.Aggregator
	running     map[string]*runningAgent
}

// New constructs a Handler. push and pusher may be nil, disabling
// push-notification support (spec.md §4.G: "missing store →
// unsupported-operation").
func New(tasks *task.Manager, queues *queue.Manager, exec Executor, push PushConfigStore, pusher Pusher, log telemetry.Logger) *Handler {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Handler{
		tasks:       tasks,
		queues:      queues,
		exec:        exec,
		push:        push,
		pusher:      pusher,
		log:         log,
		aggregators: make(map[string]*aggregator.Aggregator),
		running:     make(map[string]*runningAgent),
	}
}

func (h *Handler) aggregatorFor(taskID string) (*aggregator.Aggregator, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	agg, ok := h.aggregators[taskID]
	if !ok {
		agg = aggregator.New(h.tasks)
		h.aggregators[taskID] = agg
	}
	return agg, ok
}

func (h *Handler) dropAggregator(taskID string) {
	h.mu.Lock()
	delete(h.aggregators, taskID)
	h.mu.Unlock()
}

// resolveTask loads or synthesises the task named by msg, per spec.md §4.G
// step 1. A task is synthesised (Submitted, fresh id) when msg carries no
// task_id.
func (h *Handler) resolveTask(ctx context.Context, msg *types.Message) (*types.Task, bool, error) {
	if msg.TaskID == "" {
		if msg.ContextID == "" {
			return nil, false, apierr.New(apierr.InvalidParams, "message must carry context_id when task_id is absent")
		}
		taskID := uuid.NewString()
		status := types.TaskStatus{State: types.TaskSubmitted, Timestamp: msg.CreatedAt}
		t, err := h.tasks.CreateTask(ctx, taskID, msg.ContextID, status)
		if err != nil {
			return nil, false, err
		}
		msg.TaskID = taskID
		return t, true, nil
	}

	t, err := h.tasks.GetTask(ctx, msg.TaskID)
	if err != nil {
		return nil, false, err
	}
	if t.Status.State.Terminal() {
		return nil, false, apierr.New(apierr.InvalidParams, fmt.Sprintf("task %q is terminal", t.ID))
	}
	return t, false, nil
}

// validateTaskIDMatch re-checks that the task id the aggregator actually
// reported matches the id the request context was built with, surfacing
// internal (never silently relabeling) on mismatch (SPEC_FULL.md §12 item
// 3).
func validateTaskIDMatch(expected string, result aggregator.Result) error {
	var got string
	switch {
	case result.Task != nil:
		got = result.Task.ID
	case result.Message != nil:
		got = result.Message.TaskID
	default:
		return nil
	}
	if got != "" && got != expected {
		return apierr.New(apierr.Internal, fmt.Sprintf("executor reported task_id %q, expected %q", got, expected))
	}
	return nil
}

func toSendMessageResult(r aggregator.Result) types.SendMessageResult {
	return types.SendMessageResult{Task: r.Task, Message: r.Message}
}

// OnMessageSend implements message/send (spec.md §4.G), the unary form.
func (h *Handler) OnMessageSend(ctx context.Context, params types.MessageSendParams) (types.SendMessageResult, error) {
	msg := params.Message
	if msg == nil {
		return types.SendMessageResult{}, apierr.New(apierr.InvalidParams, "message is required")
	}

	t, _, err := h.resolveTask(ctx, msg)
	if err != nil {
		return types.SendMessageResult{}, err
	}
	taskID, contextID := t.ID, t.ContextID

	if params.PushNotificationConfig != nil && h.push != nil {
		cfg := *params.PushNotificationConfig
		cfg.TaskID = taskID
		if err := h.push.Set(ctx, &cfg); err != nil {
			return types.SendMessageResult{}, apierr.Wrap(apierr.Internal, "persist push notification config", err)
		}
	}

	if _, err := h.tasks.UpdateWithMessage(ctx, msg); err != nil {
		return types.SendMessageResult{}, err
	}

	q := h.queues.CreateOrTap(taskID)
	agg, _ := h.aggregatorFor(taskID)
	recv := q.Subscribe()

	run, spawned := h.spawnProducer(taskID, contextID, msg)

	result, interrupted, err := agg.ConsumeAndBreakOnInterrupt(ctx, recv)
	if err != nil {
		h.cleanupProducer(taskID, run, spawned, false)
		return types.SendMessageResult{}, err
	}
	if err := validateTaskIDMatch(taskID, result); err != nil {
		h.cleanupProducer(taskID, run, spawned, false)
		return types.SendMessageResult{}, err
	}

	if h.pusher != nil && h.push != nil && result.Task != nil && result.Task.Status.State.Terminal() {
		if configs, err := h.push.List(ctx, taskID); err == nil && len(configs) > 0 {
			h.pusher.Notify(ctx, result.Task, configs)
		}
	}

	h.cleanupProducer(taskID, run, spawned, interrupted)
	return toSendMessageResult(result), nil
}

// OnMessageSendStream implements message/stream (spec.md §4.G): identical
// setup to OnMessageSend, but returns a channel of Events that the caller
// ranges over; cleanup runs once the stream ends naturally or ctx is
// cancelled (stream dropped by the caller).
func (h *Handler) OnMessageSendStream(ctx context.Context, params types.MessageSendParams) (<-chan types.Event, error) {
	msg := params.Message
	if msg == nil {
		return nil, apierr.New(apierr.InvalidParams, "message is required")
	}

	t, _, err := h.resolveTask(ctx, msg)
	if err != nil {
		return nil, err
	}
	taskID, contextID := t.ID, t.ContextID

	if params.PushNotificationConfig != nil && h.push != nil {
		cfg := *params.PushNotificationConfig
		cfg.TaskID = taskID
		if err := h.push.Set(ctx, &cfg); err != nil {
			return nil, apierr.Wrap(apierr.Internal, "persist push notification config", err)
		}
	}

	if _, err := h.tasks.UpdateWithMessage(ctx, msg); err != nil {
		return nil, err
	}

	q := h.queues.CreateOrTap(taskID)
	agg, _ := h.aggregatorFor(taskID)
	recv := q.SubscribeTapped()

	run, spawned := h.spawnProducer(taskID, contextID, msg)

	events := agg.ConsumeAndEmit(ctx, recv)
	out := make(chan types.Event)
	go func() {
		defer close(out)
		for ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				recv.Close()
				h.cleanupProducer(taskID, run, spawned, true)
				return
			}
			if ev.Kind == types.EventStatusUpdate && ev.Final {
				if h.pusher != nil && h.push != nil {
					if result := agg.CurrentResult(); result.Task != nil {
						if configs, err := h.push.List(ctx, taskID); err == nil && len(configs) > 0 {
							h.pusher.Notify(ctx, result.Task, configs)
						}
					}
				}
			}
		}
		h.cleanupProducer(taskID, run, spawned, false)
	}()
	return out, nil
}

// spawnProducer launches the producer goroutine that drives the executor
// for taskID to completion, recording its done-handle in the running-agents
// mapping (spec.md §4.G step 5). The producer runs under its own background
// context, which no caller cancels. Per the single-executor invariant (I1), a
// concurrent send for a task_id with an already-running producer reuses the
// existing one instead of spawning a second (spawned=false).
func (h *Handler) spawnProducer(taskID, contextID string, msg *types.Message) (*runningAgent, bool) {
	h.mu.Lock()
	if existing, ok := h.running[taskID]; ok {
		h.mu.Unlock()
		return existing, false
	}
	run := &runningAgent{done: make(chan struct{})}
	h.running[taskID] = run
	h.mu.Unlock()

	go func() {
		defer close(run.done)
		q := h.queues.CreateOrTap(taskID)
		run.err = h.exec.Execute(context.Background(), q, bridge.RequestContext{
			TaskID:    taskID,
			ContextID: contextID,
			Message:   msg,
		})
	}()
	return run, true
}

// cleanupProducer implements the original's cleanup_producer ordering
// (SPEC_FULL.md §12 item 2): await the producer, then close the queue, then
// drop the aggregator registration — in that order, never reordered. When
// the caller observed interrupted=true, this sequence is deferred to a
// detached goroutine so the caller can disconnect immediately.
func (h *Handler) cleanupProducer(taskID string, run *runningAgent, spawned, interrupted bool) {
	if !spawned {
		return
	}
	do := func() {
		<-run.done
		h.mu.Lock()
		delete(h.running, taskID)
		h.mu.Unlock()
		h.queues.Close(taskID)
		h.dropAggregator(taskID)
	}
	if interrupted {
		go do()
		return
	}
	do()
}

// OnCancelTask implements tasks/cancel (spec.md §4.G): tap the existing
// queue (creating an empty one if none), invoke the executor's cancel,
// unregister the running producer and wait for it to return (it is not
// interrupted), drain the queue through a fresh aggregator, and return the
// resulting Task.
func (h *Handler) OnCancelTask(ctx context.Context, params types.TaskIDParams) (*types.Task, error) {
	if _, err := h.tasks.GetTask(ctx, params.ID); err != nil {
		return nil, err
	}

	q := h.queues.CreateOrTap(params.ID)
	if err := h.exec.Cancel(ctx, params.ID); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "cancel executor", err)
	}

	h.mu.Lock()
	run, hasRun := h.running[params.ID]
	delete(h.running, params.ID)
	h.mu.Unlock()
	if hasRun {
		<-run.done
	}

	agg := aggregator.New(h.tasks)
	recv := q.Subscribe()
	drainCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, _, err := agg.ConsumeAndBreakOnInterrupt(drainCtx, recv); err != nil && drainCtx.Err() == nil {
		return nil, err
	}

	return h.tasks.GetTask(ctx, params.ID)
}

// OnResubscribeToTask implements tasks/resubscribe (spec.md §4.G): forbidden
// on terminal tasks; reuses the existing aggregator if one is registered,
// otherwise constructs a fresh one backed by the task store. No executor is
// spawned — resubscribe only attaches to an already-running producer, and
// fails with task-not-found when no queue exists for the task.
func (h *Handler) OnResubscribeToTask(ctx context.Context, params types.TaskIDParams) (<-chan types.Event, error) {
	t, err := h.tasks.GetTask(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if t.Status.State.Terminal() {
		return nil, apierr.New(apierr.InvalidParams, fmt.Sprintf("task %q is terminal", t.ID))
	}

	q := h.queues.Tap(params.ID)
	if q == nil {
		return nil, apierr.New(apierr.TaskNotFound, fmt.Sprintf("task %q has no running producer to resubscribe to", t.ID))
	}
	q.SetSnapshot(t)
	agg, _ := h.aggregatorFor(params.ID)
	recv := q.SubscribeTapped()

	return agg.ConsumeAndEmit(ctx, recv), nil
}

// OnGetTask implements tasks/get.
func (h *Handler) OnGetTask(ctx context.Context, params types.TaskQueryParams) (*types.Task, error) {
	return h.tasks.GetTask(ctx, params.ID)
}

// OnSetPushNotificationConfig implements
// tasks/pushNotificationConfig/set.
func (h *Handler) OnSetPushNotificationConfig(ctx context.Context, cfg types.PushNotificationConfig) (*types.PushNotificationConfig, error) {
	if h.push == nil {
		return nil, apierr.New(apierr.UnsupportedOperation, "push notifications are not configured")
	}
	if _, err := h.tasks.GetTask(ctx, cfg.TaskID); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if err := h.push.Set(ctx, &cfg); err != nil {
		return nil, apierr.Wrap(apierr.Internal, "set push notification config", err)
	}
	return &cfg, nil
}

// OnGetPushNotificationConfig implements
// tasks/pushNotificationConfig/get.
func (h *Handler) OnGetPushNotificationConfig(ctx context.Context, taskID, configID string) (*types.PushNotificationConfig, error) {
	if h.push == nil {
		return nil, apierr.New(apierr.UnsupportedOperation, "push notifications are not configured")
	}
	if _, err := h.tasks.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	cfg, err := h.push.Get(ctx, taskID, configID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "get push notification config", err)
	}
	return cfg, nil
}

// OnListPushNotificationConfig implements
// tasks/pushNotificationConfig/list.
func (h *Handler) OnListPushNotificationConfig(ctx context.Context, taskID string) (types.ListPushNotificationConfigResult, error) {
	if h.push == nil {
		return types.ListPushNotificationConfigResult{}, apierr.New(apierr.UnsupportedOperation, "push notifications are not configured")
	}
	if _, err := h.tasks.GetTask(ctx, taskID); err != nil {
		return types.ListPushNotificationConfigResult{}, err
	}
	configs, err := h.push.List(ctx, taskID)
	if err != nil {
		return types.ListPushNotificationConfigResult{}, apierr.Wrap(apierr.Internal, "list push notification configs", err)
	}
	return types.ListPushNotificationConfigResult{Configs: configs}, nil
}

// OnDeletePushNotificationConfig implements
// tasks/pushNotificationConfig/delete.
func (h *Handler) OnDeletePushNotificationConfig(ctx context.Context, taskID, configID string) error {
	if h.push == nil {
		return apierr.New(apierr.UnsupportedOperation, "push notifications are not configured")
	}
	if _, err := h.tasks.GetTask(ctx, taskID); err != nil {
		return err
	}
	if err := h.push.Delete(ctx, taskID, configID); err != nil {
		return apierr.Wrap(apierr.Internal, "delete push notification config", err)
	}
	return nil
}
