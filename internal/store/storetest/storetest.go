// Package storetest provides in-memory store implementations for tests.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/tradiehq/integrations/internal/models"
	"github.com/tradiehq/integrations/internal/store"
)

// ConnectionStore is an in-memory store.ConnectionStore.
type ConnectionStore struct {
	mu    sync.Mutex
	conns map[string]models.Connection
}

// NewConnectionStore creates an empty in-memory connection store.
func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{conns: make(map[string]models.Connection)}
}

func (s *ConnectionStore) Get(_ context.Context, userID string) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &conn, nil
}

func (s *ConnectionStore) Upsert(_ context.Context, conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.UpdatedAt = time.Now()
	s.conns[conn.UserID] = *conn
	return nil
}

func (s *ConnectionStore) Delete(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.conns[userID]
	delete(s.conns, userID)
	return existed, nil
}

// StateStore is an in-memory store.StateStore.
type StateStore struct {
	mu       sync.Mutex
	sessions map[string]models.OAuthSession
}

// NewStateStore creates an empty in-memory state store.
func NewStateStore() *StateStore {
	return &StateStore{sessions: make(map[string]models.OAuthSession)}
}

func (s *StateStore) Create(_ context.Context, session *models.OAuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.State] = *session
	return nil
}

func (s *StateStore) Consume(_ context.Context, userID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[state]
	if !ok || session.UserID != userID || time.Now().After(session.ExpiresAt) {
		return store.ErrNotFound
	}
	delete(s.sessions, state)
	return nil
}

func (s *StateStore) PurgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for state, session := range s.sessions {
		if time.Now().After(session.ExpiresAt) {
			delete(s.sessions, state)
			deleted++
		}
	}
	return deleted, nil
}

// Session returns the stored session for a state nonce, if any.
func (s *StateStore) Session(state string) (models.OAuthSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[state]
	return session, ok
}
