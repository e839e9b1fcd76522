// Package memory provides an in-memory credential.Store implementation,
// used in development and in unit tests for the broker and rotation loop.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentbridge/control-plane/internal/credential"
)

type instanceLink struct {
	userCredentialID string
	sourceStateID    string
}

// Store is an in-memory implementation of credential.Store. It is safe for
// concurrent use.
type Store struct {
	mu              sync.RWMutex
	resourceServer  map[string]credential.ResourceServerCredential
	user            map[string]credential.UserCredential
	brokerStates    map[string]credential.BrokerState
	instanceLinks   map[string]instanceLink // tool group instance id -> link
	consumedByState map[string]string       // consumed state id -> user credential id
	toolGroups      map[string]credential.ToolGroupInstance
}

var _ credential.Store = (*Store)(nil)

// New creates a new in-memory credential store.
func New() *Store {
	return &Store{
		resourceServer:  make(map[string]credential.ResourceServerCredential),
		user:            make(map[string]credential.UserCredential),
		brokerStates:    make(map[string]credential.BrokerState),
		instanceLinks:   make(map[string]instanceLink),
		consumedByState: make(map[string]string),
		toolGroups:      make(map[string]credential.ToolGroupInstance),
	}
}

func (s *Store) CreateResourceServerCredential(_ context.Context, c credential.ResourceServerCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resourceServer[c.ID] = c
	return nil
}

func (s *Store) GetResourceServerCredential(_ context.Context, id string) (credential.ResourceServerCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.resourceServer[id]
	if !ok {
		return credential.ResourceServerCredential{}, credential.ErrNotFound
	}
	return c, nil
}

func (s *Store) UpdateResourceServerCredential(_ context.Context, c credential.ResourceServerCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resourceServer[c.ID]; !ok {
		return credential.ErrNotFound
	}
	s.resourceServer[c.ID] = c
	return nil
}

func (s *Store) DeleteResourceServerCredential(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resourceServer, id)
	return nil
}

func (s *Store) ListResourceServerCredentialsDueForRotation(_ context.Context, before time.Time, cursor string, limit int) (credential.Page[credential.ResourceServerCredential], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []credential.ResourceServerCredential
	for _, c := range s.resourceServer {
		if c.NextRotationTime != nil && !c.NextRotationTime.After(before) {
			due = append(due, c)
		}
	}
	return paginate(due, func(c credential.ResourceServerCredential) string { return c.ID }, cursor, limit), nil
}

func (s *Store) CreateUserCredential(_ context.Context, c credential.UserCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user[c.ID] = c
	return nil
}

func (s *Store) GetUserCredential(_ context.Context, id string) (credential.UserCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.user[id]
	if !ok {
		return credential.UserCredential{}, credential.ErrNotFound
	}
	return c, nil
}

func (s *Store) UpdateUserCredential(_ context.Context, c credential.UserCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.user[c.ID]; !ok {
		return credential.ErrNotFound
	}
	s.user[c.ID] = c
	return nil
}

func (s *Store) DeleteUserCredential(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.user, id)
	return nil
}

func (s *Store) ListUserCredentialsDueForRotation(_ context.Context, before time.Time, cursor string, limit int) (credential.Page[credential.UserCredential], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []credential.UserCredential
	for _, c := range s.user {
		if c.NextRotationTime != nil && !c.NextRotationTime.After(before) {
			due = append(due, c)
		}
	}
	return paginate(due, func(c credential.UserCredential) string { return c.ID }, cursor, limit), nil
}

func (s *Store) CreateBrokerState(_ context.Context, st credential.BrokerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokerStates[st.ID] = st
	return nil
}

func (s *Store) GetBrokerState(_ context.Context, id string) (credential.BrokerState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.brokerStates[id]
	return st, ok, nil
}

func (s *Store) DeleteBrokerState(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.brokerStates, id)
	return nil
}

func (s *Store) LinkToolGroupInstance(_ context.Context, toolGroupInstanceID, userCredentialID, sourceStateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instanceLinks[toolGroupInstanceID] = instanceLink{userCredentialID: userCredentialID, sourceStateID: sourceStateID}
	if sourceStateID != "" {
		s.consumedByState[sourceStateID] = userCredentialID
	}
	return nil
}

func (s *Store) UserCredentialByConsumedState(_ context.Context, stateID string) (credential.UserCredential, bool, error) {
	s.mu.RLock()
	credentialID, ok := s.consumedByState[stateID]
	s.mu.RUnlock()
	if !ok {
		return credential.UserCredential{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.user[credentialID]
	if !ok {
		return credential.UserCredential{}, false, nil
	}
	return c, true, nil
}

func (s *Store) CreateToolGroupInstance(_ context.Context, inst credential.ToolGroupInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolGroups[inst.ID] = inst
	return nil
}

func (s *Store) GetToolGroupInstance(_ context.Context, id string) (credential.ToolGroupInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.toolGroups[id]
	if !ok {
		return credential.ToolGroupInstance{}, credential.ErrNotFound
	}
	return inst, nil
}

func (s *Store) UpdateToolGroupInstanceAfterBrokering(_ context.Context, id, userCredentialID string) (credential.ToolGroupInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.toolGroups[id]
	if !ok {
		return credential.ToolGroupInstance{}, credential.ErrNotFound
	}
	inst.UserCredentialID = userCredentialID
	inst.Status = credential.ToolGroupInstanceActive
	s.toolGroups[id] = inst
	return inst, nil
}

func paginate[T any](rows []T, idOf func(T) string, cursor string, limit int) credential.Page[T] {
	sort.Slice(rows, func(i, j int) bool { return idOf(rows[i]) < idOf(rows[j]) })

	start := 0
	if cursor != "" {
		for i, r := range rows {
			if idOf(r) > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}
	if start >= len(rows) {
		return credential.Page[T]{}
	}

	end := len(rows)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	page := credential.Page[T]{Rows: append([]T(nil), rows[start:end]...)}
	if end < len(rows) {
		page.NextCursor = idOf(rows[end-1])
	}
	return page
}
