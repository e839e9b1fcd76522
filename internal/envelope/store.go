package envelope

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a KeyStore when an EEK record, DEK, or alias
// does not exist.
var ErrNotFound = errors.New("envelope: not found")

// ErrAliasExists is returned by KeyStore.CreateAlias when the alias is
// already registered; callers wanting to repoint an existing alias must use
// UpdateAlias instead.
var ErrAliasExists = errors.New("envelope: alias already exists")

// EEKRecord is the persisted description of an EEK: enough to reconstruct
// the runtime EEK wrapper (via NewLocalEEK/NewAwsKmsEEK) on boot. It never
// carries a Local key's raw bytes in the metadata row; those are loaded
// from LocalFileName by whoever re-registers the EEK at startup.
type EEKRecord struct {
	ID            string
	Variant       EEKVariant
	LocalFileName string
	AwsARN        string
	AwsRegion     string
}

// EEKVariant distinguishes the two EEK backends (spec.md §3.1).
type EEKVariant int

const (
	EEKVariantLocal EEKVariant = iota
	EEKVariantAwsKms
)

// DEKRecord is the persisted description of a Data Encryption Key: its
// encrypted-at-rest key material plus which EEK wraps it.
type DEKRecord struct {
	ID                   string
	EEKID                string
	EncryptedKeyMaterial []byte
	CreatedAt            time.Time
}

// KeyStore is the persistence port for EEK records, DEK records, and
// alias→DEK pointers (component A's storage layer, spec.md §3.1, §4.A).
type KeyStore interface {
	CreateEEK(ctx context.Context, rec EEKRecord) error
	GetEEK(ctx context.Context, id string) (EEKRecord, error)

	CreateDEK(ctx context.Context, rec DEKRecord) error
	GetDEK(ctx context.Context, id string) (DEKRecord, error)

	// CreateAlias registers a brand-new alias pointing at dekID. It
	// returns ErrAliasExists if the alias is already registered.
	CreateAlias(ctx context.Context, alias, dekID string) error
	// UpdateAlias repoints an existing alias at a new dekID, atomically
	// with respect to new ResolveAlias lookups (invariant I4).
	UpdateAlias(ctx context.Context, alias, dekID string) error
	// ResolveAlias returns the dekID an alias currently points at.
	ResolveAlias(ctx context.Context, alias string) (string, error)
}
