package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memUser(t *testing.T, m *MemoryStore, name string, admin bool) User {
	t.Helper()
	u, err := m.CreateUser(context.Background(), CreateUserInput{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "digest",
		IsAdmin:      admin,
	})
	require.NoError(t, err)
	return u
}

func TestMemoryStore_Conflicts(t *testing.T) {
	m := NewMemoryStore()
	memUser(t, m, "alice", false)

	_, err := m.CreateUser(context.Background(), CreateUserInput{Username: "ALICE", Email: "x@example.com", PasswordHash: "d"})
	assert.Equal(t, "username", ConflictField(err))

	_, err = m.CreateUser(context.Background(), CreateUserInput{Username: "al", Email: "Alice@Example.com", PasswordHash: "d"})
	assert.Equal(t, "email", ConflictField(err))
}

func TestMemoryStore_LoginLookup(t *testing.T) {
	m := NewMemoryStore()
	u := memUser(t, m, "bob", false)

	got, err := m.GetUserByLogin(context.Background(), "BOB@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = m.GetUserByLogin(context.Background(), "")
	assert.True(t, IsNotFound(err))
}

func TestMemoryStore_LastAdmin(t *testing.T) {
	m := NewMemoryStore()
	a := memUser(t, m, "root", true)

	_, err := m.SetAdmin(context.Background(), a.ID, false)
	assert.True(t, errors.Is(err, ErrLastAdmin))

	b := memUser(t, m, "deputy", false)
	_, err = m.SetAdmin(context.Background(), b.ID, true)
	require.NoError(t, err)
	got, err := m.SetAdmin(context.Background(), a.ID, false)
	require.NoError(t, err)
	assert.False(t, got.IsAdmin)
}

func TestMemoryStore_DeleteUser_LastAdmin(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	a := memUser(t, m, "first", true)
	b := memUser(t, m, "second", true)

	require.NoError(t, m.DeleteUser(ctx, a.ID))
	require.ErrorIs(t, m.DeleteUser(ctx, b.ID), ErrLastAdmin)

	got, err := m.GetUserByID(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, got.IsAdmin)

	require.True(t, IsNotFound(m.DeleteUser(ctx, "missing")))
}

func TestMemoryStore_CreateUserWithProfile(t *testing.T) {
	m := NewMemoryStore()
	u, p, err := m.CreateUserWithProfile(context.Background(),
		CreateUserInput{Username: "erin", Email: "erin@example.com", PasswordHash: "d"},
		Profile{FirstName: "Erin", ZipCode: "12345"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, p.UserID)
	assert.NotEmpty(t, p.ID)

	got, err := m.GetProfile(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "12345", got.ZipCode)

	require.NoError(t, m.DeleteUser(context.Background(), u.ID))
	_, err = m.GetProfile(context.Background(), u.ID)
	assert.True(t, IsNotFound(err))
}
