package session

import (
	"context"
	"sync"
	"time"
)

// MemoryRefreshStore is a RefreshStore for tests and single-process dev.
type MemoryRefreshStore struct {
	mu      sync.Mutex
	records map[string]RefreshRecord
}

func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{records: make(map[string]RefreshRecord)}
}

func (s *MemoryRefreshStore) Create(_ context.Context, r RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r
	return nil
}

func (s *MemoryRefreshStore) Rotate(_ context.Context, oldID string, next RefreshRecord, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.records[oldID]
	if !ok {
		return ErrRefreshNotFound
	}
	if old.RotatedAt != nil {
		return ErrRefreshReused
	}
	if old.RevokedAt != nil {
		return ErrRefreshRevoked
	}
	if !now.Before(old.ExpiresAt) {
		return ErrRefreshExpired
	}
	t := now
	old.RotatedAt = &t
	old.ReplacedBy = next.ID
	s.records[oldID] = old
	s.records[next.ID] = next
	return nil
}

func (s *MemoryRefreshStore) Revoke(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrRefreshNotFound
	}
	if r.RevokedAt == nil {
		t := now
		r.RevokedAt = &t
		s.records[id] = r
	}
	return nil
}

func (s *MemoryRefreshStore) RevokeFamily(_ context.Context, familyID string, now time.Time) error {
	s.revokeWhere(now, func(r RefreshRecord) bool { return r.FamilyID == familyID })
	return nil
}

func (s *MemoryRefreshStore) RevokeUser(_ context.Context, tenantID, userID string, now time.Time) error {
	s.revokeWhere(now, func(r RefreshRecord) bool { return r.TenantID == tenantID && r.UserID == userID })
	return nil
}

func (s *MemoryRefreshStore) revokeWhere(now time.Time, match func(RefreshRecord) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if match(r) && r.RevokedAt == nil {
			t := now
			r.RevokedAt = &t
			s.records[id] = r
		}
	}
}

// Get returns a copy of one record, for tests.
func (s *MemoryRefreshStore) Get(id string) (RefreshRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}
