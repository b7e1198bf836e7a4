package session_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/auth/session"
	"clubhouse/cmd/internal/pgtest"
)

// Redis tests are opt-in via CLUB_REDIS_ADDR.
func newRedisStore(t *testing.T) *session.RedisStore {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("CLUB_REDIS_ADDR"))
	if addr == "" {
		t.Skip("integration test skipped: CLUB_REDIS_ADDR is not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		if pgtest.ShouldSkip(err) {
			t.Skipf("integration test skipped: Redis unreachable: %v", err)
		}
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return session.NewRedisStore(rdb, session.WithKeyPrefix("club_it_"+hex.EncodeToString(b)+":"))
}

func TestRedisStore_Lifecycle(t *testing.T) {
	store := newRedisStore(t)

	users := identity.NewMemoryStore()
	u, err := users.CreateUser(context.Background(), identity.CreateUserInput{Username: "rita", Email: "rita@example.com", PasswordHash: "d"})
	require.NoError(t, err)

	mgr, err := session.NewManager(session.DefaultConfig(), store, users)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := mgr.Issue(ctx, u.ID)
	require.NoError(t, err)
	b, err := mgr.Issue(ctx, u.ID)
	require.NoError(t, err)

	_, s, err := mgr.Validate(ctx, a.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, s.UserID)

	ok, err := store.Extend(ctx, a.Session.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, a.Session.ID))
	ok, err = store.Extend(ctx, a.Session.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "SET XX must not recreate a deleted session")

	require.NoError(t, mgr.InvalidateAllForUser(ctx, u.ID))
	_, _, err = mgr.Validate(ctx, b.Token)
	assert.ErrorIs(t, err, session.ErrInvalidSession)
}
