package envelope

import (
	"context"
	"crypto/rand"
	"fmt"
)

// EEK is the runtime wrapper/unwrapper for a single Envelope Encryption Key
// (spec.md §4.A, §3.1). The only implementations are the unexported types
// behind NewLocalEEK and NewAwsKmsEEK, so "exactly one of aws_arn+aws_region
// or local_file_name" (the original's CHECK constraint, SPEC_FULL.md §12
// item 5) is enforced by construction rather than left to callers.
type EEK interface {
	// ID identifies this key, matching the id under which it was
	// registered with the Store.
	ID() string
	// Wrap encrypts a DEK's plaintext key material for at-rest storage.
	Wrap(ctx context.Context, plaintext []byte) ([]byte, error)
	// Unwrap recovers a DEK's plaintext key material from its persisted
	// wrapped form.
	Unwrap(ctx context.Context, wrapped []byte) ([]byte, error)
}

// localEEK wraps DEKs under a locally-held 256-bit master key (the "Local"
// EEK variant, spec.md §3.1).
type localEEK struct {
	id       string
	fileName string
	key      []byte
}

// NewLocalEEK constructs a Local-variant EEK. key is the master key loaded
// from fileName by the caller (the store never reads the filesystem
// itself); it must be exactly 32 bytes.
func NewLocalEEK(id, fileName string, key []byte) (EEK, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("local eek %q: master key must be 32 bytes, got %d", id, len(key))
	}
	return &localEEK{id: id, fileName: fileName, key: key}, nil
}

func (e *localEEK) ID() string { return e.id }

func (e *localEEK) Wrap(_ context.Context, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(e.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, []byte(e.id))
	return append(nonce, sealed...), nil
}

func (e *localEEK) Unwrap(_ context.Context, wrapped []byte) ([]byte, error) {
	if len(wrapped) < nonceSize {
		return nil, fmt.Errorf("local eek %q: wrapped material too short", e.id)
	}
	aead, err := newAEAD(e.key)
	if err != nil {
		return nil, err
	}
	nonce, sealed := wrapped[:nonceSize], wrapped[nonceSize:]
	return aead.Open(nil, nonce, sealed, []byte(e.id))
}
