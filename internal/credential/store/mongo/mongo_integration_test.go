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

	"github.com/agentbridge/control-plane/internal/credential"
	storemongo "github.com/agentbridge/control-plane/internal/credential/store/mongo"
	"github.com/agentbridge/control-plane/internal/envelope"
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

// TestCredentialStoreResourceServerRotationPage exercises
// ListResourceServerCredentialsDueForRotation (component D's rotation loop
// query) against a real mongod, verifying the cursor-paged due-set query
// survives persistence and a store recreation.
func TestCredentialStoreResourceServerRotationPage(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	st := storemongo.New(db)

	now := time.Now().UTC()
	due := now.Add(-time.Minute)
	notDue := now.Add(time.Hour)

	creds := []credential.ResourceServerCredential{
		{Credential: credential.Credential{ID: "cred-1", TypeID: "oauth2", Value: "enc1", DEKAlias: "default", NextRotationTime: &due}},
		{Credential: credential.Credential{ID: "cred-2", TypeID: "oauth2", Value: "enc2", DEKAlias: "default", NextRotationTime: &notDue}},
	}
	for _, c := range creds {
		require.NoError(t, st.CreateResourceServerCredential(ctx, c))
	}

	st2 := storemongo.New(db)
	page, err := st2.ListResourceServerCredentialsDueForRotation(ctx, now, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	require.Equal(t, "cred-1", page.Rows[0].ID)
	require.Equal(t, envelope.EncryptedString("enc1"), page.Rows[0].Value)
}

func TestCredentialStoreBrokerStateRoundTrip(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()
	st := storemongo.New(db)

	state := credential.BrokerState{
		ID: "state-1", ToolGroupInstanceID: "tgi-1", DeploymentTypeID: "dep-1",
		Action: credential.RedirectAction{URL: "https://auth.example.com/authorize"}, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateBrokerState(ctx, state))

	got, ok, err := st.GetBrokerState(ctx, "state-1")
	require.NoError(t, err)
	require.True(t, ok)
	redirect, ok := got.Action.(credential.RedirectAction)
	require.True(t, ok)
	require.Equal(t, state.Action.(credential.RedirectAction).URL, redirect.URL)

	require.NoError(t, st.DeleteBrokerState(ctx, "state-1"))
	_, ok, err = st.GetBrokerState(ctx, "state-1")
	require.NoError(t, err)
	require.False(t, ok)
}
