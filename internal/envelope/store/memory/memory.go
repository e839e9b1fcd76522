// Package memory provides an in-memory envelope.KeyStore implementation,
// used in development and in unit tests for the envelope store.
package memory

import (
	"context"
	"sync"

	"github.com/agentbridge/control-plane/internal/envelope"
)

// Store is an in-memory implementation of envelope.KeyStore. It is safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	eeks    map[string]envelope.EEKRecord
	deks    map[string]envelope.DEKRecord
	aliases map[string]string
}

var _ envelope.KeyStore = (*Store)(nil)

// New creates a new in-memory envelope key store.
func New() *Store {
	return &Store{
		eeks:    make(map[string]envelope.EEKRecord),
		deks:    make(map[string]envelope.DEKRecord),
		aliases: make(map[string]string),
	}
}

func (s *Store) CreateEEK(_ context.Context, rec envelope.EEKRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eeks[rec.ID] = rec
	return nil
}

func (s *Store) GetEEK(_ context.Context, id string) (envelope.EEKRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.eeks[id]
	if !ok {
		return envelope.EEKRecord{}, envelope.ErrNotFound
	}
	return rec, nil
}

func (s *Store) CreateDEK(_ context.Context, rec envelope.DEKRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deks[rec.ID] = rec
	return nil
}

func (s *Store) GetDEK(_ context.Context, id string) (envelope.DEKRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.deks[id]
	if !ok {
		return envelope.DEKRecord{}, envelope.ErrNotFound
	}
	return rec, nil
}

func (s *Store) CreateAlias(_ context.Context, alias, dekID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.aliases[alias]; ok {
		return envelope.ErrAliasExists
	}
	s.aliases[alias] = dekID
	return nil
}

func (s *Store) UpdateAlias(_ context.Context, alias, dekID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.aliases[alias]; !ok {
		return envelope.ErrNotFound
	}
	s.aliases[alias] = dekID
	return nil
}

func (s *Store) ResolveAlias(_ context.Context, alias string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dekID, ok := s.aliases[alias]
	if !ok {
		return "", envelope.ErrNotFound
	}
	return dekID, nil
}
