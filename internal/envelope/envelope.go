// Package envelope implements the Envelope/DEK Store (spec.md §3.1, §4.A):
// a two-tier key hierarchy of Envelope Encryption Keys (EEKs, either a local
// master key or an AWS KMS key), Data Encryption Keys (DEKs, wrapped at rest
// by an EEK), and repointable aliases naming "the current DEK" for a given
// purpose. Plaintext is only ever handled in-process; the ciphertext wire
// format is defined in ciphertext.go.
package envelope

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentbridge/control-plane/internal/apierr"
)

// Store is the envelope encryption service: it owns the registered runtime
// EEKs, the CryptoCache, and the persistence port, and exposes the
// create_eek / create_dek / create_alias / update_alias / resolve / encrypt
// / decrypt operations of spec.md §4.A.
type Store struct {
	keys  KeyStore
	cache *CryptoCache

	mu   sync.RWMutex
	eeks map[string]EEK
}

// New constructs an envelope Store backed by keys. Runtime EEK wrappers
// (built via NewLocalEEK/NewAwsKmsEEK) must be registered with RegisterEEK
// before any DEK that depends on them can be used.
func New(keys KeyStore) *Store {
	return &Store{
		keys:  keys,
		cache: newCryptoCache(),
		eeks:  make(map[string]EEK),
	}
}

// RegisterEEK makes a runtime EEK wrapper available for wrap/unwrap calls.
// Called once per EEK at boot (after reloading its EEKRecord and, for a
// Local EEK, its master key bytes from disk) and again whenever CreateEEK
// introduces a new one.
func (s *Store) RegisterEEK(eek EEK) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eeks[eek.ID()] = eek
}

func (s *Store) eekFor(id string) (EEK, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eek, ok := s.eeks[id]
	if !ok {
		return nil, apierr.Newf(apierr.KeyUnavailable, "eek %q is not registered with this process", id)
	}
	return eek, nil
}

// CreateEEK persists rec and registers eek (its runtime wrapper) for
// immediate use. The two must describe the same key: callers build eek via
// NewLocalEEK/NewAwsKmsEEK from the same id, file name/ARN, and region they
// pass in rec.
func (s *Store) CreateEEK(ctx context.Context, eek EEK, rec EEKRecord) error {
	if err := s.keys.CreateEEK(ctx, rec); err != nil {
		return apierr.Wrap(apierr.Internal, "persist eek", err)
	}
	s.RegisterEEK(eek)
	return nil
}

// CreateDEK generates (or, if material is non-nil, imports) a DEK, wraps
// its key material under eekID, and persists it. It returns the new DEK's
// id.
func (s *Store) CreateDEK(ctx context.Context, eekID string, material []byte) (string, error) {
	eek, err := s.eekFor(eekID)
	if err != nil {
		return "", err
	}

	if material == nil {
		material = make([]byte, 32)
		if _, err := rand.Read(material); err != nil {
			return "", apierr.Wrap(apierr.Cryptographic, "generate dek material", err)
		}
	} else if len(material) != 32 {
		return "", apierr.New(apierr.InvalidParams, "dek material must be 256 bits")
	}

	wrapped, err := eek.Wrap(ctx, material)
	if err != nil {
		return "", apierr.Wrap(apierr.KeyUnavailable, "wrap dek under eek "+eekID, err)
	}

	id := uuid.NewString()
	rec := DEKRecord{ID: id, EEKID: eekID, EncryptedKeyMaterial: wrapped, CreatedAt: time.Now().UTC()}
	if err := s.keys.CreateDEK(ctx, rec); err != nil {
		return "", apierr.Wrap(apierr.Internal, "persist dek", err)
	}

	s.cache.setDEK(id, material)
	return id, nil
}

// CreateAlias registers a brand-new alias pointing at dekID. Creating an
// alias that already exists is an error; use UpdateAlias to repoint one.
func (s *Store) CreateAlias(ctx context.Context, alias, dekID string) error {
	if err := s.keys.CreateAlias(ctx, alias, dekID); err != nil {
		return apierr.Wrap(apierr.InvalidParams, "create alias "+alias, err)
	}
	s.cache.invalidateAlias(alias)
	return nil
}

// UpdateAlias repoints an existing alias at a new DEK. Ciphertext already
// sealed under the alias's old DEK remains decryptable (its dek_id is
// embedded in the wire format, not derived from the alias), satisfying
// invariant I4.
func (s *Store) UpdateAlias(ctx context.Context, alias, dekID string) error {
	if err := s.keys.UpdateAlias(ctx, alias, dekID); err != nil {
		return apierr.Wrap(apierr.InvalidParams, "update alias "+alias, err)
	}
	s.cache.invalidateAlias(alias)
	return nil
}

// Resolve returns the DEK id an alias currently points at, the invariant
// I4-sensitive lookup every encrypt call performs.
func (s *Store) Resolve(ctx context.Context, alias string) (string, error) {
	if dekID, ok := s.cache.getAlias(alias); ok {
		return dekID, nil
	}
	dekID, err := s.keys.ResolveAlias(ctx, alias)
	if err != nil {
		return "", apierr.Wrap(apierr.KeyUnavailable, fmt.Sprintf("resolve alias %q", alias), err)
	}
	s.cache.setAlias(alias, dekID)
	return dekID, nil
}

// ResolveByID returns the DEKRecord for a DEK id, bypassing alias
// resolution. Used by decrypt, which already knows the dek_id embedded in
// the ciphertext.
func (s *Store) ResolveByID(ctx context.Context, dekID string) (DEKRecord, error) {
	rec, err := s.keys.GetDEK(ctx, dekID)
	if err != nil {
		return DEKRecord{}, apierr.Wrap(apierr.KeyUnavailable, fmt.Sprintf("resolve dek %q", dekID), err)
	}
	return rec, nil
}

func (s *Store) materialFor(ctx context.Context, dekID string) ([]byte, error) {
	if key, ok := s.cache.getDEK(dekID); ok {
		return key, nil
	}
	rec, err := s.ResolveByID(ctx, dekID)
	if err != nil {
		return nil, err
	}
	eek, err := s.eekFor(rec.EEKID)
	if err != nil {
		return nil, err
	}
	material, err := eek.Unwrap(ctx, rec.EncryptedKeyMaterial)
	if err != nil {
		return nil, apierr.Wrap(apierr.KeyUnavailable, "unwrap dek "+dekID, err)
	}
	s.cache.setDEK(dekID, material)
	return material, nil
}

// Encrypt resolves alias to its current DEK and seals plaintext, producing
// the self-describing EncryptedString wire format of spec.md §6.4.
func (s *Store) Encrypt(ctx context.Context, alias string, plaintext []byte) (EncryptedString, error) {
	dekID, err := s.Resolve(ctx, alias)
	if err != nil {
		return "", err
	}
	material, err := s.materialFor(ctx, dekID)
	if err != nil {
		return "", err
	}
	return sealWithDEK(dekID, material, plaintext, []byte(alias))
}

// Decrypt recovers the plaintext sealed in ct, using the DEK id embedded in
// the ciphertext itself rather than alias's current target, so a later
// alias repoint never breaks existing ciphertexts (invariant I4). alias
// must be the same value passed to the original Encrypt call, since it is
// bound into the AEAD's additional authenticated data.
func (s *Store) Decrypt(ctx context.Context, alias string, ct EncryptedString) ([]byte, error) {
	dekID, err := dekIDOf(ct)
	if err != nil {
		return nil, err
	}
	material, err := s.materialFor(ctx, dekID)
	if err != nil {
		return nil, err
	}
	plaintext, err := openWithDEK(material, ct, []byte(alias))
	if err != nil {
		return nil, fmt.Errorf("decrypt under alias %q: %w", alias, err)
	}
	return plaintext, nil
}
