package session

import (
	"context"
	"time"
)

// Row is the persisted form of a session. ID is the token digest.
type Row struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store abstracts persistence for session state.
type Store interface {
	// Create inserts a row. An unknown user yields an identity NotFound error.
	Create(ctx context.Context, row Row) error

	// Get loads a row by id, returning ErrSessionNotFound when absent.
	// Expired rows may still be returned; the manager decides.
	Get(ctx context.Context, id string) (Row, error)

	// Extend moves the expiry only if the row still exists.
	// It reports false when the row is gone, so a concurrent Delete always wins.
	Extend(ctx context.Context, id string, expiresAt time.Time) (bool, error)

	// Delete removes a row. Deleting a missing row is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteAllForUser removes every row of userID.
	DeleteAllForUser(ctx context.Context, userID string) error
}
