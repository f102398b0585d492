package preferences

import (
	"context"
	"sync"

	"instacares-notify/internal/domain/notification"
)

var _ notification.PreferenceStore = (*MemoryStore)(nil)

// MemoryStore holds preferences in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]notification.Preferences
}

// NewMemoryStore creates an empty preference store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: make(map[string]notification.Preferences)}
}

// Get returns the user's preferences, or nil, nil when none are stored.
func (s *MemoryStore) Get(_ context.Context, userID string) (*notification.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prefs[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Set stores a user's preferences.
func (s *MemoryStore) Set(p notification.Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[p.UserID] = p
}
