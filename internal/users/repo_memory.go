package users

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded Store for tests and local seeding.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
	nodes map[string]Node
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]User),
		nodes: make(map[string]Node),
	}
}

// Put inserts or replaces a user.
func (s *MemoryStore) Put(u User) {
	u.Email = normalizeEmail(u.Email)
	s.mu.Lock()
	s.users[u.ID] = cloneUser(u)
	s.mu.Unlock()
}

func (s *MemoryStore) PutNode(n Node) {
	s.mu.Lock()
	s.nodes[n.ID] = n
	s.mu.Unlock()
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (User, error) {
	email = normalizeEmail(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) FindUserByID(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) UpdateLastLogin(_ context.Context, tenantID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.TenantID != tenantID {
		return ErrNotFound
	}
	at = at.UTC()
	u.LastLoginAt = &at
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) BumpTokenVersion(_ context.Context, tenantID, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.TenantID != tenantID {
		return 0, ErrNotFound
	}
	u.TokenVersion++
	s.users[userID] = u
	return u.TokenVersion, nil
}

func (s *MemoryStore) SessionState(_ context.Context, userID string) (int64, bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, false, false, nil
	}
	return u.TokenVersion, u.CanSignIn(), true, nil
}

func (s *MemoryStore) FindNode(_ context.Context, tenantID, nodeID string) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeID]
	if !ok || n.TenantID != tenantID {
		return Node{}, ErrNotFound
	}
	return n, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneUser(u User) User {
	out := u
	out.Roles = append(out.Roles[:0:0], u.Roles...)
	out.NodeIDs = append(out.NodeIDs[:0:0], u.NodeIDs...)
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		out.LastLoginAt = &t
	}
	return out
}
