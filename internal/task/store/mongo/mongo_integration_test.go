//go:build integration

package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcmongodb "github.com/testcontainers/testcontainers-go/modules/mongodb"
	driver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/task"
	storemongo "github.com/agentbridge/control-plane/internal/task/store/mongo"
)

func newTestDatabase(t *testing.T) *driver.Database {
	t.Helper()
	ctx := context.Background()

	container, err := tcmongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := driver.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, client.Disconnect(ctx)) })

	return client.Database("controlplane_test")
}

// TestTaskStoreCreateGetUpdateRoundTrip exercises the MongoDB-backed
// task.Store against a real mongod, verifying persistence survives a
// store recreation against the same database (spec.md §4.A durability).
func TestTaskStoreCreateGetUpdateRoundTrip(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	st := storemongo.New(db)
	now := time.Now().UTC().Truncate(time.Millisecond)
	task := &types.Task{
		ID:        "task-1",
		ContextID: "ctx-1",
		Status:    types.TaskStatus{State: types.TaskSubmitted, Timestamp: now},
		CreatedAt: now,
		UpdatedAt: now,
	}

	require.NoError(t, st.Create(ctx, task))

	got, err := st.Get(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, task.ID, got.ID)
	require.Equal(t, task.ContextID, got.ContextID)
	require.Equal(t, types.TaskSubmitted, got.Status.State)

	task.Status = types.TaskStatus{State: types.TaskCompleted, Timestamp: now.Add(time.Second)}
	task.UpdatedAt = now.Add(time.Second)
	require.NoError(t, st.Update(ctx, task))

	// A second Store instance against the same database must observe the
	// update: durability is a property of the database, not the process.
	st2 := storemongo.New(db)
	got2, err := st2.Get(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, types.TaskCompleted, got2.Status.State)
}

func TestTaskStoreGetMissingReturnsNotFound(t *testing.T) {
	db := newTestDatabase(t)
	st := storemongo.New(db)

	_, err := st.Get(context.Background(), "missing")
	require.ErrorIs(t, err, task.ErrNotFound)
}
