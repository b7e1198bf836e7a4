package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"clubhouse/cmd/identity"
)

// PostgresStore implements Store using the sessions table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "clubhouse").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !identity.ValidSchema(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: identity.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, row Row) error {
	const op = "session.Create"

	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table()+` (id, user_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, row.ID, row.UserID, row.CreatedAt, row.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23503": // foreign_key_violation
				return identity.NotFoundError{Op: op, Resource: "user"}
			case "23505": // unique_violation
				return identity.ConflictError{Op: op, Field: "session"}
			}
		}
		return err
	}
	return nil
}

// Get loads a session row by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (Row, error) {
	var row Row

	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, created_at, expires_at
		FROM `+s.table()+`
		WHERE id = $1
	`, id).Scan(&row.ID, &row.UserID, &row.CreatedAt, &row.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// Extend updates expires_at if the row still exists.
func (s *PostgresStore) Extend(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET expires_at = $2
		WHERE id = $1
	`, id, expiresAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// Delete removes a session row (idempotent).
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE id = $1`, id)
	return err
}

// DeleteAllForUser removes every session of a user (idempotent).
func (s *PostgresStore) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE user_id = $1`, userID)
	return err
}

// DeleteExpired purges rows that expired before now and returns how many were removed.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
