package users

import (
	"context"
	"sync"
	"testing"
	"time"

	"lms-platform/internal/rbac"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded() *MemoryStore {
	s := NewMemoryStore()
	s.Put(User{ID: "u1", TenantID: "t1", Email: "Ada@Example.com", ActiveRole: rbac.RoleLearner, Active: true, NodeID: "n1", NodeIDs: []string{"n2"}})
	s.PutNode(Node{ID: "n1", TenantID: "t1", Active: true})
	return s
}

func TestMemoryStore_Lookups(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	u, err := s.FindUserByEmail(ctx, "ada@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = s.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FindNode(ctx, "t2", "n1")
	assert.ErrorIs(t, err, ErrNotFound, "nodes are tenant scoped")
}

func TestMemoryStore_BumpIsTenantScopedAndAtomic(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	_, err := s.BumpTokenVersion(ctx, "t2", "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.BumpTokenVersion(ctx, "t1", "u1")
		}()
	}
	wg.Wait()

	v, active, found, err := s.SessionState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), v)
	assert.True(t, active)
	assert.True(t, found)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := seeded()
	ctx := context.Background()

	u, _ := s.FindUserByID(ctx, "u1")
	u.NodeIDs[0] = "mutated"
	require.NoError(t, s.UpdateLastLogin(ctx, "t1", "u1", time.Now()))

	again, _ := s.FindUserByID(ctx, "u1")
	assert.Equal(t, []string{"n2"}, again.NodeIDs)
	assert.NotNil(t, again.LastLoginAt)
}

func TestUser_AssignedTo(t *testing.T) {
	u := User{NodeID: "n1", NodeIDs: []string{"n2"}}
	assert.True(t, u.AssignedTo("n1"))
	assert.True(t, u.AssignedTo("n2"))
	assert.False(t, u.AssignedTo("n3"))
	assert.False(t, u.AssignedTo(""))
}

func TestUser_CanSignIn(t *testing.T) {
	assert.True(t, User{Active: true}.CanSignIn())
	assert.False(t, User{Active: true, Disabled: true}.CanSignIn())
	assert.False(t, User{}.CanSignIn())
}
