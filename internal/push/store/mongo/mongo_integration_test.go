//go:build integration

package mongo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tcmongodb "github.com/testcontainers/testcontainers-go/modules/mongodb"
	driver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	storemongo "github.com/agentbridge/control-plane/internal/push/store/mongo"
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

func TestPushConfigStoreSetListDeleteRoundTrip(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	st := storemongo.New(db)

	cfg1 := &types.PushNotificationConfig{ID: "cfg-1", TaskID: "task-1", URL: "https://a.example.com/hook"}
	cfg2 := &types.PushNotificationConfig{ID: "cfg-2", TaskID: "task-1", URL: "https://b.example.com/hook"}
	require.NoError(t, st.Set(ctx, cfg1))
	require.NoError(t, st.Set(ctx, cfg2))

	st2 := storemongo.New(db)
	list, err := st2.List(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	got, err := st2.Get(ctx, "task-1", "cfg-1")
	require.NoError(t, err)
	require.Equal(t, cfg1.URL, got.URL)

	require.NoError(t, st2.Delete(ctx, "task-1", "cfg-1"))
	_, err = st2.Get(ctx, "task-1", "cfg-1")
	require.ErrorIs(t, err, storemongo.ErrNotFound)

	list, err = st2.List(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}
