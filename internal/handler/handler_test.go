package handler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/apierr"
	"github.com/agentbridge/control-plane/internal/bridge"
	"github.com/agentbridge/control-plane/internal/handler"
	pushmem "github.com/agentbridge/control-plane/internal/push/store/memory"
	"github.com/agentbridge/control-plane/internal/queue"
	"github.com/agentbridge/control-plane/internal/task"
	taskmem "github.com/agentbridge/control-plane/internal/task/store/memory"
)

// fakeExecutor drives a task to completion by enqueueing a Working then a
// final Completed StatusUpdate. release, if non-nil, gates Execute so tests
// can observe how many times it was actually invoked before letting it run.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   int32
	release chan struct{}
}

func (e *fakeExecutor) Execute(ctx context.Context, q *queue.EventQueue, rc bridge.RequestContext) error {
	atomic.AddInt32(&e.calls, 1)
	if e.release != nil {
		<-e.release
	}
	now := time.Now().UTC()
	q.Enqueue(types.StatusUpdateEvent(rc.ContextID, rc.TaskID, types.TaskStatus{State: types.TaskWorking, Timestamp: now}, false))
	q.Enqueue(types.StatusUpdateEvent(rc.ContextID, rc.TaskID, types.TaskStatus{State: types.TaskCompleted, Timestamp: now}, true))
	return nil
}

func (e *fakeExecutor) Cancel(ctx context.Context, taskID string) error { return nil }

func newHandler(exec handler.Executor) (*handler.Handler, *task.Manager) {
	tm := task.NewManager(taskmem.New())
	qm := queue.NewManager()
	return handler.New(tm, qm, exec, nil, nil, nil), tm
}

func TestOnMessageSendCreatesNewTaskAndRunsToCompletion(t *testing.T) {
	h, _ := newHandler(&fakeExecutor{})
	ctx := context.Background()

	result, err := h.OnMessageSend(ctx, types.MessageSendParams{
		Message: &types.Message{ID: "m1", ContextID: "ctx1", Role: types.RoleUser, CreatedAt: time.Now().UTC()},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Task)
	assert.Equal(t, types.TaskCompleted, result.Task.Status.State)
}

func TestOnMessageSendRejectsTerminalTask(t *testing.T) {
	h, tm := newHandler(&fakeExecutor{})
	ctx := context.Background()

	_, err := tm.CreateTask(ctx, "t1", "ctx1", types.TaskStatus{State: types.TaskCompleted, Timestamp: time.Now().UTC()})
	require.NoError(t, err)

	_, err = h.OnMessageSend(ctx, types.MessageSendParams{
		Message: &types.Message{ID: "m1", TaskID: "t1", Role: types.RoleUser, CreatedAt: time.Now().UTC()},
	})
	require.Error(t, err)
	assert.Equal(t, apierr.InvalidParams, apierr.KindOf(err))
}

func TestSingleExecutorInvariantReusesRunningProducer(t *testing.T) {
	exec := &fakeExecutor{release: make(chan struct{})}
	h, tm := newHandler(exec)
	ctx := context.Background()

	_, err := tm.CreateTask(ctx, "t1", "ctx1", types.TaskStatus{State: types.TaskSubmitted, Timestamp: time.Now().UTC()})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = h.OnMessageSend(ctx, types.MessageSendParams{
				Message: &types.Message{ID: "m" + string(rune('0'+i)), TaskID: "t1", Role: types.RoleUser, CreatedAt: time.Now().UTC()},
			})
		}(i)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&exec.calls) >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond) // give the second goroutine a chance to (wrongly) spawn its own producer
	close(exec.release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&exec.calls))
}

func TestOnCancelTaskInvokesExecutorCancelAndReturnsTask(t *testing.T) {
	exec := &fakeExecutor{}
	h, tm := newHandler(exec)
	ctx := context.Background()

	_, err := tm.CreateTask(ctx, "t1", "ctx1", types.TaskStatus{State: types.TaskWorking, Timestamp: time.Now().UTC()})
	require.NoError(t, err)

	got, err := h.OnCancelTask(ctx, types.TaskIDParams{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
}

func TestOnResubscribeForbiddenOnTerminalTask(t *testing.T) {
	h, tm := newHandler(&fakeExecutor{})
	ctx := context.Background()

	_, err := tm.CreateTask(ctx, "t1", "ctx1", types.TaskStatus{State: types.TaskFailed, Timestamp: time.Now().UTC()})
	require.NoError(t, err)

	_, err = h.OnResubscribeToTask(ctx, types.TaskIDParams{ID: "t1"})
	require.Error(t, err)
	assert.Equal(t, apierr.InvalidParams, apierr.KindOf(err))
}

func TestPushNotificationConfigCRUDRequiresStore(t *testing.T) {
	h, _ := newHandler(&fakeExecutor{})
	ctx := context.Background()

	_, err := h.OnSetPushNotificationConfig(ctx, types.PushNotificationConfig{TaskID: "t1", URL: "http://example.com"})
	require.Error(t, err)
	assert.Equal(t, apierr.UnsupportedOperation, apierr.KindOf(err))
}

func TestPushNotificationConfigCRUDWithStore(t *testing.T) {
	tm := task.NewManager(taskmem.New())
	qm := queue.NewManager()
	store := pushmem.New()
	h := handler.New(tm, qm, &fakeExecutor{}, store, nil, nil)
	ctx := context.Background()

	_, err := tm.CreateTask(ctx, "t1", "ctx1", types.TaskStatus{State: types.TaskSubmitted, Timestamp: time.Now().UTC()})
	require.NoError(t, err)

	cfg, err := h.OnSetPushNotificationConfig(ctx, types.PushNotificationConfig{TaskID: "t1", URL: "http://example.com/cb"})
	require.NoError(t, err)
	require.NotEmpty(t, cfg.ID)

	list, err := h.OnListPushNotificationConfig(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list.Configs, 1)

	require.NoError(t, h.OnDeletePushNotificationConfig(ctx, "t1", cfg.ID))
	list, err = h.OnListPushNotificationConfig(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, list.Configs, 0)
}
