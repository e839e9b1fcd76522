// Package memory provides an in-memory PushNotificationConfig store, used in
// development and in unit tests for the Request Handler.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentbridge/control-plane/internal/a2a/types"
)

// ErrNotFound is returned when a config lookup finds no row.
var ErrNotFound = fmt.Errorf("push notification config not found")

// Store is an in-memory implementation of handler.PushConfigStore. Safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	configs map[string]map[string]*types.PushNotificationConfig // task_id -> config_id -> config
}

// New creates a new in-memory push notification config store.
func New() *Store {
	return &Store{configs: make(map[string]map[string]*types.PushNotificationConfig)}
}

// Set upserts cfg, keyed by (task_id, id).
func (s *Store) Set(_ context.Context, cfg *types.PushNotificationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.configs[cfg.TaskID]
	if !ok {
		byID = make(map[string]*types.PushNotificationConfig)
		s.configs[cfg.TaskID] = byID
	}
	cp := *cfg
	byID[cfg.ID] = &cp
	return nil
}

// Get retrieves one config by task_id and config_id.
func (s *Store) Get(_ context.Context, taskID, configID string) (*types.PushNotificationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.configs[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cfg, ok := byID[configID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

// List returns every config registered for taskID. N is unbounded per
// spec.md §3.1.
func (s *Store) List(_ context.Context, taskID string) ([]*types.PushNotificationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.configs[taskID]
	out := make([]*types.PushNotificationConfig, 0, len(byID))
	for _, cfg := range byID {
		cp := *cfg
		out = append(out, &cp)
	}
	return out, nil
}

// Delete removes one config. Deleting an absent config is not an error.
func (s *Store) Delete(_ context.Context, taskID, configID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byID, ok := s.configs[taskID]; ok {
		delete(byID, configID)
	}
	return nil
}
