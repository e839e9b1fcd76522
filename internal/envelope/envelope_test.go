package envelope_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/control-plane/internal/envelope"
	"github.com/agentbridge/control-plane/internal/envelope/store/memory"
)

func newLocalStore(t *testing.T) (*envelope.Store, envelope.EEK) {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	eek, err := envelope.NewLocalEEK("eek-1", "testdata/master.key", key)
	require.NoError(t, err)

	s := envelope.New(memory.New())
	require.NoError(t, s.CreateEEK(context.Background(), eek, envelope.EEKRecord{
		ID: "eek-1", Variant: envelope.EEKVariantLocal, LocalFileName: "testdata/master.key",
	}))
	return s, eek
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStore(t)

	dekID, err := s.CreateDEK(ctx, "eek-1", nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateAlias(ctx, "session-data", dekID))

	ct, err := s.Encrypt(ctx, "session-data", []byte("hello world"))
	require.NoError(t, err)

	pt, err := s.Decrypt(ctx, "session-data", ct)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(pt))
}

// TestAliasRepointPreservesOldCiphertexts exercises invariant I4: an alias
// repoint must not break decryption of ciphertext sealed under the alias's
// previous DEK, since the DEK id travels with the ciphertext rather than
// being derived from the alias's current target.
func TestAliasRepointPreservesOldCiphertexts(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStore(t)

	dek1, err := s.CreateDEK(ctx, "eek-1", nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateAlias(ctx, "session-data", dek1))

	ct1, err := s.Encrypt(ctx, "session-data", []byte("old secret"))
	require.NoError(t, err)

	dek2, err := s.CreateDEK(ctx, "eek-1", nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateAlias(ctx, "session-data", dek2))

	ct2, err := s.Encrypt(ctx, "session-data", []byte("new secret"))
	require.NoError(t, err)

	pt1, err := s.Decrypt(ctx, "session-data", ct1)
	require.NoError(t, err)
	assert.Equal(t, "old secret", string(pt1))

	pt2, err := s.Decrypt(ctx, "session-data", ct2)
	require.NoError(t, err)
	assert.Equal(t, "new secret", string(pt2))
}

func TestCreateAliasRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStore(t)

	dekID, err := s.CreateDEK(ctx, "eek-1", nil)
	require.NoError(t, err)
	require.NoError(t, s.CreateAlias(ctx, "session-data", dekID))

	err = s.CreateAlias(ctx, "session-data", dekID)
	assert.Error(t, err)
}

func TestDecryptRejectsMalformedCiphertext(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStore(t)

	_, err := s.Decrypt(ctx, "session-data", envelope.EncryptedString("not-a-valid-ciphertext"))
	assert.Error(t, err)
}
