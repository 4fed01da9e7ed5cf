// Package session holds the per-context state that is not a shared
// collection: who is logged in, and the device preferences.
package session

import (
	"context"
	"sync"

	"infinityforum/internal/storage"
)

// Session records the current user of one execution context. A Session
// built with Restore persists changes under infinityCurrentUser so the next
// start of the context resumes it.
type Session struct {
	store *storage.Durable

	mu      sync.RWMutex
	current string
}

// New returns an ephemeral, logged-out session.
func New() *Session {
	return &Session{}
}

// Restore returns a session resumed from store.
func Restore(ctx context.Context, store *storage.Durable) *Session {
	s := &Session{store: store}
	if name, ok := store.LoadString(ctx, storage.KeyCurrentUser); ok {
		s.current = name
	}
	return s
}

// Current returns the logged-in username, or "" when logged out.
func (s *Session) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// LoggedIn reports whether a user is logged in.
func (s *Session) LoggedIn() bool {
	return s.Current() != ""
}

// SetCurrent records username as the current user. The context switches to
// username even when persisting it fails; the error is still returned.
func (s *Session) SetCurrent(ctx context.Context, username string) error {
	s.mu.Lock()
	s.current = username
	s.mu.Unlock()
	if s.store != nil {
		return s.store.SaveString(ctx, storage.KeyCurrentUser, username)
	}
	return nil
}

// Clear logs out.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.current = ""
	s.mu.Unlock()
	if s.store != nil {
		return s.store.Remove(ctx, storage.KeyCurrentUser)
	}
	return nil
}
