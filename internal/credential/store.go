// Package credential persists the bearer credential of the attendance kiosk.
//
// The durable footprint is a single key. Absence of the key means the kiosk
// is logged out. Every write replaces the previous value atomically.
package credential

import (
	"context"
	"errors"
	"sync"
)

// Key is the well-known storage key holding the bearer token.
const Key = "auth_token"

// ErrNotFound is returned by Load when no credential is stored.
var ErrNotFound = errors.New("credential not found")

// Store is the durable client-side storage for the bearer token.
type Store interface {
	// Load returns the stored token or ErrNotFound.
	Load(ctx context.Context) (string, error)
	// Save replaces the stored token.
	Save(ctx context.Context, token string) error
	// Clear removes the stored token. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// MemoryStore keeps the token in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (s *MemoryStore) Load(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", ErrNotFound
	}
	return s.token, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, token string) error {
	if token == "" {
		return errors.New("credential: empty token")
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return nil
}

// Token returns the stored token, or "" when none is stored.
func Token(ctx context.Context, store Store) string {
	token, err := store.Load(ctx)
	if err != nil {
		return ""
	}
	return token
}
