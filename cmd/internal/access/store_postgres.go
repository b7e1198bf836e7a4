package access

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

// PostgresStore persists access requests in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default "clubhouse").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !identity.ValidSchema(schema) {
			return fmt.Errorf("access: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
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
		return nil, errors.New("access: nil pool")
	}
	return st, nil
}

const requestColumns = `id, email, email_norm, first_name, last_name, phone, address, city, state, zip_code,
	country, reason, status, created_at, processed_at, processed_by, notes`

func scanRequest(row pgx.Row) (Request, error) {
	var r Request
	var st string
	err := row.Scan(&r.ID, &r.Email, &r.EmailNorm, &r.FirstName, &r.LastName, &r.Phone, &r.Address, &r.City,
		&r.State, &r.ZipCode, &r.Country, &r.Reason, &st, &r.CreatedAt, &r.ProcessedAt, &r.ProcessedBy, &r.Notes)
	r.Status = Status(st)
	return r, err
}

func (s *PostgresStore) begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
}

// Insert stores a pending request after checking, in the same transaction,
// that no user owns the email and no pending request exists for it. The
// partial unique index catches the race between two concurrent submits.
func (s *PostgresStore) Insert(ctx context.Context, r Request) (Request, error) {
	const op = "access.Insert"

	if err := ctx.Err(); err != nil {
		return Request{}, err
	}
	if r.ID == "" || r.EmailNorm == "" {
		return Request{}, identity.OpError{Op: op, Kind: identity.ErrInvalidInput, Msg: "missing id or email"}
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return Request{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userExists, pendingExists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+pgIdent(s.schema, "users")+` WHERE email_norm = $1),
		        EXISTS (SELECT 1 FROM `+pgIdent(s.schema, "access_requests")+` WHERE email_norm = $1 AND status = 'pending')`,
		r.EmailNorm,
	).Scan(&userExists, &pendingExists)
	if err != nil {
		return Request{}, err
	}
	if userExists {
		return Request{}, identity.ConflictError{Op: op, Field: FieldEmail}
	}
	if pendingExists {
		return Request{}, identity.ConflictError{Op: op, Field: FieldPendingRequest}
	}

	out, err := scanRequest(tx.QueryRow(ctx,
		`INSERT INTO `+pgIdent(s.schema, "access_requests")+` (
		     id, email, email_norm, first_name, last_name, phone, address, city, state, zip_code,
		     country, reason, status, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 'pending', $13)
		RETURNING `+requestColumns,
		r.ID, r.Email, r.EmailNorm, r.FirstName, r.LastName, r.Phone, r.Address, r.City, r.State, r.ZipCode,
		r.Country, r.Reason, r.CreatedAt,
	))
	if err != nil {
		if pgIsUniqueViolation(err, "uq_access_requests_pending_email") {
			return Request{}, identity.ConflictError{Op: op, Field: FieldPendingRequest}
		}
		return Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		if pgIsUniqueViolation(err, "uq_access_requests_pending_email") {
			return Request{}, identity.ConflictError{Op: op, Field: FieldPendingRequest}
		}
		return Request{}, err
	}
	return out, nil
}

// Approve transitions the request and provisions its user and profile.
//
// The conditional UPDATE takes the row lock, so of two concurrent approvals
// the loser sees zero rows and gets ErrInvalidState. Any failure after it
// (for example a username conflict) rolls the transition back.
func (s *PostgresStore) Approve(ctx context.Context, in ApproveRecord) (Request, identity.User, error) {
	const op = "access.Approve"

	if err := ctx.Err(); err != nil {
		return Request{}, identity.User{}, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return Request{}, identity.User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := s.transition(ctx, tx, op, in.ProcessRecord, StatusApproved)
	if err != nil {
		return Request{}, identity.User{}, err
	}

	user, err := identity.InsertUser(ctx, tx, s.schema, identity.CreateUserInput{
		Username:     in.Username,
		Email:        req.Email,
		PasswordHash: in.PasswordHash,
		IsAdmin:      false,
		Now:          in.Now,
	})
	if err != nil {
		return Request{}, identity.User{}, err
	}

	if _, err := identity.InsertProfile(ctx, tx, s.schema, profileFor(req, user.ID, in.Now)); err != nil {
		return Request{}, identity.User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, identity.User{}, err
	}
	return req, user, nil
}

// Reject transitions a pending request to rejected.
func (s *PostgresStore) Reject(ctx context.Context, in ProcessRecord) (Request, error) {
	const op = "access.Reject"

	if err := ctx.Err(); err != nil {
		return Request{}, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return Request{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	req, err := s.transition(ctx, tx, op, in, StatusRejected)
	if err != nil {
		return Request{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Request{}, err
	}
	return req, nil
}

// transition performs the guarded status change. Zero rows means the
// request is missing or already processed; a re-select tells which.
func (s *PostgresStore) transition(ctx context.Context, tx pgx.Tx, op string, in ProcessRecord, to Status) (Request, error) {
	table := pgIdent(s.schema, "access_requests")

	req, err := scanRequest(tx.QueryRow(ctx,
		`UPDATE `+table+`
		    SET status = $2, processed_at = $3, processed_by = $4, notes = $5
		  WHERE id = $1 AND status = 'pending'
		RETURNING `+requestColumns,
		in.RequestID, string(to), in.Now, in.AdminID, in.Notes,
	))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if pgIsForeignKeyViolation(err) {
			return Request{}, identity.NotFoundError{Op: op, Resource: "admin"}
		}
		return Request{}, err
	}

	var st string
	err = tx.QueryRow(ctx, `SELECT status FROM `+table+` WHERE id = $1`, in.RequestID).Scan(&st)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, identity.NotFoundError{Op: op, Resource: "access_request"}
		}
		return Request{}, err
	}
	return Request{}, notPending(op, Status(st))
}

// Get loads a request by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Request, error) {
	const op = "access.Get"

	r, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM `+pgIdent(s.schema, "access_requests")+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, identity.NotFoundError{Op: op, Resource: "access_request"}
		}
		return Request{}, err
	}
	return r, nil
}

// List returns requests oldest first; pending ones are what admins work through.
func (s *PostgresStore) List(ctx context.Context, status Status) ([]Request, error) {
	q := `SELECT ` + requestColumns + ` FROM ` + pgIdent(s.schema, "access_requests")
	var args []any
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountPending counts pending requests.
func (s *PostgresStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+pgIdent(s.schema, "access_requests")+` WHERE status = 'pending'`).Scan(&n)
	return n, err
}

// profileFor copies the request's contact fields into the new member's profile.
func profileFor(r Request, userID string, now time.Time) identity.Profile {
	return identity.Profile{
		UserID:    userID,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Phone:     r.Phone,
		Address:   r.Address,
		City:      r.City,
		State:     r.State,
		ZipCode:   r.ZipCode,
		Country:   r.Country,
		UpdatedAt: now,
	}
}

func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && strings.EqualFold(pgErr.ConstraintName, constraint)
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
