package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/apierr"
	"github.com/agentbridge/control-plane/internal/task"
	"github.com/agentbridge/control-plane/internal/task/store/memory"
)

func TestManagerCreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := task.NewManager(memory.New())

	status := types.TaskStatus{State: types.TaskSubmitted, Timestamp: time.Now().UTC()}
	created, err := m.CreateTask(ctx, "t1", "ctx1", status)
	require.NoError(t, err)
	assert.Equal(t, "t1", created.ID)

	got, err := m.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskSubmitted, got.Status.State)
}

func TestManagerGetMissingReturnsTaskNotFound(t *testing.T) {
	m := task.NewManager(memory.New())
	_, err := m.GetTask(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apierr.TaskNotFound, apierr.KindOf(err))
}

func TestManagerUpdateWithMessageAppendsHistory(t *testing.T) {
	ctx := context.Background()
	m := task.NewManager(memory.New())
	status := types.TaskStatus{State: types.TaskSubmitted, Timestamp: time.Now().UTC()}
	_, err := m.CreateTask(ctx, "t1", "ctx1", status)
	require.NoError(t, err)

	msg := &types.Message{ID: "m1", TaskID: "t1", Role: types.RoleUser, CreatedAt: time.Now().UTC()}
	updated, err := m.UpdateWithMessage(ctx, msg)
	require.NoError(t, err)
	require.Len(t, updated.History, 1)
	assert.Equal(t, "m1", updated.History[0].ID)
}

func TestManagerApplyEventStatusUpdate(t *testing.T) {
	ctx := context.Background()
	m := task.NewManager(memory.New())
	status := types.TaskStatus{State: types.TaskSubmitted, Timestamp: time.Now().UTC()}
	_, err := m.CreateTask(ctx, "t1", "ctx1", status)
	require.NoError(t, err)

	ev := types.StatusUpdateEvent("ctx1", "t1", types.TaskStatus{
		State:     types.TaskCompleted,
		Timestamp: time.Now().UTC(),
	}, true)
	updated, err := m.ApplyEvent(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, updated.Status.State)
}
