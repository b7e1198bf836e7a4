package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"clubhouse/cmd/identity/ids"
)

// DefaultSchema is the Postgres schema every store uses unless configured otherwise.
const DefaultSchema = "clubhouse"

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store never closes it.
// Schema/table identifiers are quoted with pgx.Identifier.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidSchema reports whether s is a legal unquoted PostgreSQL identifier.
func ValidSchema(s string) bool {
	return pgIdentRe.MatchString(s)
}

// WithSchema sets the Postgres schema used by the store (default "clubhouse").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !ValidSchema(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const userColumns = `id, username, username_norm, email, email_norm, password_hash, is_admin, created_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.UsernameNorm, &u.Email, &u.EmailNorm, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	return u, err
}

// InsertUser inserts a user row through q, which may be a transaction owned by another store.
// Unique violations map to ConflictError{Field: "username"|"email"}.
func InsertUser(ctx context.Context, q Querier, schema string, in CreateUserInput) (User, error) {
	const op = "identity.InsertUser"

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if username == "" {
		return User{}, Invalid(op, "username", "username is required")
	}
	if email == "" {
		return User{}, Invalid(op, "email", "email is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password hash is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           id,
		Username:     username,
		UsernameNorm: NormalizeUsername(username),
		Email:        email,
		EmailNorm:    NormalizeEmail(email),
		PasswordHash: in.PasswordHash,
		IsAdmin:      in.IsAdmin,
		CreatedAt:    now,
	}

	_, err = q.Exec(ctx,
		`INSERT INTO `+pgIdent(schema, "users")+` (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Username, u.UsernameNorm, u.Email, u.EmailNorm, u.PasswordHash, u.IsAdmin, u.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return u, nil
}

// InsertProfile inserts the profile row of a freshly created user through q.
func InsertProfile(ctx context.Context, q Querier, schema string, p Profile) (Profile, error) {
	const op = "identity.InsertProfile"

	if strings.TrimSpace(p.UserID) == "" {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing user_id"}
	}
	if p.ID == "" {
		id, err := ids.NewUUID()
		if err != nil {
			return Profile{}, err
		}
		p.ID = id
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	_, err := q.Exec(ctx,
		`INSERT INTO `+pgIdent(schema, "user_profiles")+` (
		     id, user_id, first_name, last_name, phone, address, city, state, zip_code, country,
		     bio, show_in_directory, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.UserID, p.FirstName, p.LastName, p.Phone, p.Address, p.City, p.State, p.ZipCode, p.Country,
		p.Bio, p.ShowInDirectory, p.UpdatedAt,
	)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return Profile{}, NotFoundError{Op: op, Resource: "user"}
		}
		if _, ok := pgClassifyUniqueViolation(err); ok {
			return Profile{}, ConflictError{Op: op, Field: "profile"}
		}
		return Profile{}, err
	}
	return p, nil
}

// CreateUser inserts a user outside of any other transaction.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	return InsertUser(ctx, s.pool, s.schema, in)
}

// GetUserByID loads a user by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if strings.TrimSpace(id) == "" {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return s.getOne(ctx, op, `WHERE id = $1`, id)
}

// GetUserByLogin loads a user whose normalized username or email equals login.
func (s *PostgresStore) GetUserByLogin(ctx context.Context, login string) (User, error) {
	const op = "identity.GetUserByLogin"

	n := NormalizeUsername(login)
	if n == "" {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	// A username can never contain '@', so at most one row matches each column.
	return s.getOne(ctx, op, `WHERE username_norm = $1 OR email_norm = $1 ORDER BY (username_norm = $1) DESC LIMIT 1`, n)
}

// GetUserByUsername loads a user by normalized username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	const op = "identity.GetUserByUsername"
	return s.getOne(ctx, op, `WHERE username_norm = $1`, NormalizeUsername(username))
}

func (s *PostgresStore) getOne(ctx context.Context, op, where string, arg any) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+pgIdent(s.schema, "users")+` `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	return u, nil
}

// ListUsers returns all users, oldest first.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	const op = "identity.ListUsers"

	if s == nil || s.pool == nil {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM `+pgIdent(s.schema, "users")+` ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]User, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountUsers returns the number of users.
func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	const op = "identity.CountUsers"

	if s == nil || s.pool == nil {
		return 0, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+pgIdent(s.schema, "users")).Scan(&n)
	return n, err
}

// SetAdmin changes a user's admin flag.
//
// All admin rows are locked first so two concurrent demotions cannot both
// observe a second admin and leave the club with none.
func (s *PostgresStore) SetAdmin(ctx context.Context, userID string, admin bool) (User, error) {
	const op = "identity.SetAdmin"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	users := pgIdent(s.schema, "users")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	admins, err := lockAdmins(ctx, tx, users)
	if err != nil {
		return User{}, err
	}

	current, err := scanUser(tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+users+` WHERE id = $1 FOR UPDATE`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}

	if current.IsAdmin && !admin && admins <= 1 {
		return User{}, ErrLastAdmin
	}
	if current.IsAdmin == admin {
		return current, nil
	}

	out, err := scanUser(tx.QueryRow(ctx,
		`UPDATE `+users+` SET is_admin = $2 WHERE id = $1 RETURNING `+userColumns, userID, admin))
	if err != nil {
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return out, nil
}

// lockAdmins locks every admin row in id order and returns how many there are.
func lockAdmins(ctx context.Context, tx pgx.Tx, users string) (int, error) {
	rows, err := tx.Query(ctx, `SELECT id FROM `+users+` WHERE is_admin ORDER BY id FOR UPDATE`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	admins := 0
	for rows.Next() {
		admins++
	}
	return admins, rows.Err()
}

// UpdateAccount changes username and/or email.
func (s *PostgresStore) UpdateAccount(ctx context.Context, userID string, in UpdateAccountInput) (User, error) {
	const op = "identity.UpdateAccount"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	var username, usernameNorm, email, emailNorm *string
	if in.Username != nil {
		u := strings.TrimSpace(*in.Username)
		n := NormalizeUsername(u)
		username, usernameNorm = &u, &n
	}
	if in.Email != nil {
		e := strings.TrimSpace(*in.Email)
		n := NormalizeEmail(e)
		email, emailNorm = &e, &n
	}

	out, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE `+pgIdent(s.schema, "users")+`
		    SET username      = COALESCE($2, username),
		        username_norm = COALESCE($3, username_norm),
		        email         = COALESCE($4, email),
		        email_norm    = COALESCE($5, email_norm)
		  WHERE id = $1
		RETURNING `+userColumns,
		userID, username, usernameNorm, email, emailNorm,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return out, nil
}

// UpdatePasswordHash replaces the stored digest.
func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	const op = "identity.UpdatePasswordHash"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if strings.TrimSpace(hash) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty hash"}
	}

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "users")+` SET password_hash = $2 WHERE id = $1`,
		userID, hash,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// DeleteUser deletes sessions, profile and user in one transaction.
// Sessions have no cascading FK, so the order is load-bearing. Deleting the
// last admin fails with ErrLastAdmin; admin rows are locked as in SetAdmin.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	const op = "identity.DeleteUser"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	users := pgIdent(s.schema, "users")

	admins, err := lockAdmins(ctx, tx, users)
	if err != nil {
		return err
	}
	var isAdmin bool
	err = tx.QueryRow(ctx, `SELECT is_admin FROM `+users+` WHERE id = $1 FOR UPDATE`, userID).Scan(&isAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NotFoundError{Op: op, Resource: "user"}
		}
		return err
	}
	if isAdmin && admins <= 1 {
		return ErrLastAdmin
	}

	if _, err := tx.Exec(ctx, `DELETE FROM `+pgIdent(s.schema, "sessions")+` WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+pgIdent(s.schema, "user_profiles")+` WHERE user_id = $1`, userID); err != nil {
		return err
	}
	ct, err := tx.Exec(ctx, `DELETE FROM `+users+` WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}

	return tx.Commit(ctx)
}

// GetProfile loads a user's profile.
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	const op = "identity.GetProfile"

	if s == nil || s.pool == nil {
		return Profile{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}

	var p Profile
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, first_name, last_name, phone, address, city, state, zip_code, country,
		        bio, show_in_directory, updated_at
		   FROM `+pgIdent(s.schema, "user_profiles")+`
		  WHERE user_id = $1`,
		userID,
	).Scan(&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.Phone, &p.Address, &p.City, &p.State, &p.ZipCode,
		&p.Country, &p.Bio, &p.ShowInDirectory, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, NotFoundError{Op: op, Resource: "profile"}
		}
		return Profile{}, err
	}
	return p, nil
}

// ---- helpers ----

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable constraint names, fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_users_username_norm":
		return "username", true
	case "uq_users_email_norm":
		return "email", true
	default:
		switch {
		case strings.Contains(c, "username"):
			return "username", true
		case strings.Contains(c, "email"):
			return "email", true
		default:
			return "unique", true
		}
	}
}
