package aggregator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/aggregator"
	"github.com/agentbridge/control-plane/internal/queue"
	"github.com/agentbridge/control-plane/internal/task"
	"github.com/agentbridge/control-plane/internal/task/store/memory"
)

func setup(t *testing.T) (*task.Manager, *queue.Manager) {
	t.Helper()
	tm := task.NewManager(memory.New())
	_, err := tm.CreateTask(context.Background(), "t1", "ctx1", types.TaskStatus{
		State: types.TaskSubmitted, Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	return tm, queue.NewManager()
}

func TestConsumeAndBreakOnInterruptStopsOnFinal(t *testing.T) {
	tm, qm := setup(t)
	q := qm.CreateOrTap("t1")
	agg := aggregator.New(tm)
	recv := q.Subscribe()

	q.Enqueue(types.StatusUpdateEvent("ctx1", "t1", types.TaskStatus{State: types.TaskWorking, Timestamp: time.Now().UTC()}, false))
	q.Enqueue(types.StatusUpdateEvent("ctx1", "t1", types.TaskStatus{State: types.TaskCompleted, Timestamp: time.Now().UTC()}, true))

	result, interrupted, err := agg.ConsumeAndBreakOnInterrupt(context.Background(), recv)
	require.NoError(t, err)
	assert.False(t, interrupted)
	require.NotNil(t, result.Task)
	assert.Equal(t, types.TaskCompleted, result.Task.Status.State)
}

func TestConsumeAndBreakOnInterruptReturnsInterruptedOnInputRequired(t *testing.T) {
	tm, qm := setup(t)
	q := qm.CreateOrTap("t1")
	agg := aggregator.New(tm)
	recv := q.Subscribe()

	q.Enqueue(types.StatusUpdateEvent("ctx1", "t1", types.TaskStatus{State: types.TaskInputRequired, Timestamp: time.Now().UTC()}, false))

	result, interrupted, err := agg.ConsumeAndBreakOnInterrupt(context.Background(), recv)
	require.NoError(t, err)
	assert.True(t, interrupted)
	require.NotNil(t, result.Task)
	assert.Equal(t, types.TaskInputRequired, result.Task.Status.State)
}

func TestConsumeAndEmitForwardsAndStopsOnFinal(t *testing.T) {
	tm, qm := setup(t)
	q := qm.CreateOrTap("t1")
	agg := aggregator.New(tm)
	recv := q.Subscribe()

	out := agg.ConsumeAndEmit(context.Background(), recv)

	q.Enqueue(types.StatusUpdateEvent("ctx1", "t1", types.TaskStatus{State: types.TaskWorking, Timestamp: time.Now().UTC()}, false))
	q.Enqueue(types.StatusUpdateEvent("ctx1", "t1", types.TaskStatus{State: types.TaskCompleted, Timestamp: time.Now().UTC()}, true))

	var got []types.Event
	for ev := range out {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.True(t, got[1].Final)
}
