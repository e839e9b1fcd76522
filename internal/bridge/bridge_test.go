package bridge_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/bridge"
	"github.com/agentbridge/control-plane/internal/queue"
	"github.com/agentbridge/control-plane/internal/task"
	"github.com/agentbridge/control-plane/internal/task/store/memory"
)

// fakeHandle is a WorkflowHandle that blocks on Wait until closed, and
// records signals and cancellation.
type fakeHandle struct {
	mu      sync.Mutex
	done    chan struct{}
	signals []string
	canceled bool
}

func newFakeHandle() *fakeHandle { return &fakeHandle{done: make(chan struct{})} }

func (h *fakeHandle) Wait(ctx context.Context, result any) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *fakeHandle) Signal(ctx context.Context, name string, payload any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signals = append(h.signals, name)
	close(h.done)
	return nil
}

func (h *fakeHandle) Cancel(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.canceled = true
	close(h.done)
	return nil
}

type fakeEngine struct {
	mu      sync.Mutex
	started []bridge.WorkflowStartRequest
	handle  *fakeHandle
}

func (e *fakeEngine) RegisterWorkflow(ctx context.Context, def bridge.WorkflowDefinition) error { return nil }
func (e *fakeEngine) RegisterActivity(ctx context.Context, def bridge.ActivityDefinition) error { return nil }

func (e *fakeEngine) StartWorkflow(ctx context.Context, req bridge.WorkflowStartRequest) (bridge.WorkflowHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, req)
	e.handle = newFakeHandle()
	return e.handle, nil
}

func TestBridgeStartNewTransitionsToWorkingAndWaits(t *testing.T) {
	tm := task.NewManager(memory.New())
	_, err := tm.CreateTask(context.Background(), "t1", "ctx1", types.TaskStatus{
		State: types.TaskSubmitted, Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	eng := &fakeEngine{}
	b := bridge.New(eng, tm, nil)
	qm := queue.NewManager()
	q := qm.CreateOrTap("t1")

	done := make(chan error, 1)
	go func() {
		done <- b.Execute(context.Background(), q, bridge.RequestContext{TaskID: "t1", ContextID: "ctx1"})
	}()

	require.Eventually(t, func() bool {
		got, err := tm.GetTask(context.Background(), "t1")
		return err == nil && got.Status.State == types.TaskWorking
	}, time.Second, time.Millisecond)

	eng.mu.Lock()
	h := eng.handle
	eng.mu.Unlock()
	require.NotNil(t, h)
	h.Signal(context.Background(), "done", nil) // unblock Wait via close(h.done)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Execute did not return")
	}
}

func TestBridgeResolveExistingSignalsRunningWorkflow(t *testing.T) {
	tm := task.NewManager(memory.New())
	_, err := tm.CreateTask(context.Background(), "t1", "ctx1", types.TaskStatus{
		State: types.TaskWorking, Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	eng := &fakeEngine{}
	b := bridge.New(eng, tm, nil)
	qm := queue.NewManager()
	q := qm.CreateOrTap("t1")

	go b.Execute(context.Background(), q, bridge.RequestContext{TaskID: "t1", ContextID: "ctx1"})
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return eng.handle != nil
	}, time.Second, time.Millisecond)

	err = b.Execute(context.Background(), q, bridge.RequestContext{TaskID: "t1", ContextID: "ctx1", Message: &types.Message{ID: "m2"}})
	require.NoError(t, err)

	eng.mu.Lock()
	h := eng.handle
	eng.mu.Unlock()
	h.mu.Lock()
	assert.Contains(t, h.signals, bridge.NewInputSignal)
	h.mu.Unlock()
}

func TestBridgeCancelCancelsRunningWorkflow(t *testing.T) {
	tm := task.NewManager(memory.New())
	_, err := tm.CreateTask(context.Background(), "t1", "ctx1", types.TaskStatus{
		State: types.TaskSubmitted, Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	eng := &fakeEngine{}
	b := bridge.New(eng, tm, nil)
	qm := queue.NewManager()
	q := qm.CreateOrTap("t1")

	go b.Execute(context.Background(), q, bridge.RequestContext{TaskID: "t1", ContextID: "ctx1"})
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return eng.handle != nil
	}, time.Second, time.Millisecond)

	require.NoError(t, b.Cancel(context.Background(), "t1"))

	eng.mu.Lock()
	h := eng.handle
	eng.mu.Unlock()
	h.mu.Lock()
	assert.True(t, h.canceled)
	h.mu.Unlock()
}
