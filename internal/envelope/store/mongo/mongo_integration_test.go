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

	"github.com/agentbridge/control-plane/internal/envelope"
	storemongo "github.com/agentbridge/control-plane/internal/envelope/store/mongo"
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

// TestEnvelopeStoreKeyHierarchyRoundTrip exercises the two-tier EEK/DEK/alias
// hierarchy (spec.md §8) against a real mongod: an EEK record, a DEK wrapped
// under it, and an alias resolving to that DEK all survive a fresh Store
// bound to the same database.
func TestEnvelopeStoreKeyHierarchyRoundTrip(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	st := storemongo.New(db)

	eek := envelope.EEKRecord{ID: "eek-1", Variant: envelope.EEKVariantLocal, LocalFileName: "master.key"}
	require.NoError(t, st.CreateEEK(ctx, eek))

	dek := envelope.DEKRecord{ID: "dek-1", EEKID: "eek-1", EncryptedKeyMaterial: []byte{1, 2, 3}, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateDEK(ctx, dek))

	require.NoError(t, st.CreateAlias(ctx, "default", "dek-1"))

	st2 := storemongo.New(db)

	gotEEK, err := st2.GetEEK(ctx, "eek-1")
	require.NoError(t, err)
	require.Equal(t, eek.LocalFileName, gotEEK.LocalFileName)

	gotDEK, err := st2.GetDEK(ctx, "dek-1")
	require.NoError(t, err)
	require.Equal(t, dek.EEKID, gotDEK.EEKID)

	resolved, err := st2.ResolveAlias(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, "dek-1", resolved)
}

func TestEnvelopeStoreCreateAliasConflictsOnDuplicate(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	st := storemongo.New(db)

	require.NoError(t, st.CreateAlias(ctx, "default", "dek-1"))
	err := st.CreateAlias(ctx, "default", "dek-2")
	require.ErrorIs(t, err, envelope.ErrAliasExists)
}
