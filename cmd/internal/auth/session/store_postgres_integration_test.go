package session_test

import (
	"context"
	"testing"
	"time"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/auth/session"
	"clubhouse/cmd/internal/pgtest"
)

// Integration tests are enabled when CLUB_DATABASE_URL is set.

func newPostgresManager(t *testing.T) (*session.Manager, *session.PostgresStore, identity.User, pgtest.DB) {
	t.Helper()

	db := pgtest.Open(t)

	users, err := identity.NewPostgresStore(db.Pool, identity.WithSchema(db.Schema))
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	store, err := session.NewPostgresStore(db.Pool, session.WithSchema(db.Schema))
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	mgr, err := session.NewManager(session.DefaultConfig(), store, users)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	u, err := users.CreateUser(ctx, identity.CreateUserInput{
		Username:     "sessuser",
		Email:        "sessuser@example.com",
		PasswordHash: "digest",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return mgr, store, u, db
}

func TestPostgresSession_IssueValidateInvalidate(t *testing.T) {
	t.Parallel()

	mgr, _, u, _ := newPostgresManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	iss, err := mgr.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	got, s, err := mgr.Validate(ctx, iss.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.ID != u.ID || s.ID != iss.Session.ID {
		t.Fatalf("Validate: unexpected user/session %s/%s", got.ID, s.ID)
	}

	if err := mgr.Invalidate(ctx, s.ID); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, _, err := mgr.Validate(ctx, iss.Token); err == nil {
		t.Fatalf("expected invalid session after logout")
	}
}

func TestPostgresSession_UnknownUser_NotFound(t *testing.T) {
	t.Parallel()

	_, store, _, _ := newPostgresManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	err := store.Create(ctx, session.Row{
		ID:        session.SessionID("orphan"),
		UserID:    "01J0000000000000000000000X",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	})
	if !identity.IsNotFound(err) {
		t.Fatalf("expected not found for FK violation, got %v", err)
	}
}

func TestPostgresSession_ExtendAfterDelete_ReturnsFalse(t *testing.T) {
	t.Parallel()

	mgr, store, u, _ := newPostgresManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	iss, err := mgr.Issue(ctx, u.ID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := store.Delete(ctx, iss.Session.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err := store.Extend(ctx, iss.Session.ID, time.Now().Add(time.Hour))
	if err != nil || ok {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}
}

func TestPostgresSession_DeleteExpired(t *testing.T) {
	t.Parallel()

	_, store, u, _ := newPostgresManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	past := time.Now().UTC().Add(-48 * time.Hour)
	if err := store.Create(ctx, session.Row{ID: session.SessionID("old"), UserID: u.ID, CreatedAt: past, ExpiresAt: past.Add(time.Hour)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	n, err := store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil || n != 1 {
		t.Fatalf("expected one purged row, got %d (%v)", n, err)
	}
}
