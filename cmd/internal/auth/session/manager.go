package session

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"log/slog"
	"strings"
	"time"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/metrics"
	"clubhouse/cmd/security/token"
)

// tokenBytes is the session token entropy (160 bits).
const tokenBytes = 20

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Session is a validated or freshly created session.
// Fresh is set when Validate extended the expiry, so the cookie must be re-issued.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Fresh     bool
}

// Issued pairs a new session with the raw token that goes into the cookie.
// The token must never be logged.
type Issued struct {
	Token   string
	Session Session
}

// UserLookup resolves the user that owns a session.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (identity.User, error)
}

// Manager creates, validates and invalidates sessions.
type Manager struct {
	cfg   Config
	store Store
	users UserLookup
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now; tests use it to cross expiry and renewal boundaries.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger used for session events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager constructs a Manager.
func NewManager(cfg Config, store Store, users UserLookup, opts ...Option) (*Manager, error) {
	if store == nil || users == nil {
		return nil, errors.New("session: nil store or user lookup")
	}
	if cfg.Lifetime <= 0 || cfg.RenewWindow < 0 || cfg.RenewWindow >= cfg.Lifetime {
		return nil, ErrConfig
	}
	if strings.TrimSpace(cfg.CookieName) == "" {
		cfg.CookieName = "session"
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}
	m := &Manager{
		cfg:   cfg,
		store: store,
		users: users,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config { return m.cfg }

// GenerateToken returns 160 random bits as lowercase, unpadded base32.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToLower(tokenEncoding.EncodeToString(b)), nil
}

// SessionID maps a raw token to the stored session id.
func SessionID(tok string) string {
	return token.HashSessionTokenHex(tok)
}

// Create persists a session for userID keyed by the digest of tok.
func (m *Manager) Create(ctx context.Context, tok, userID string) (Session, error) {
	if strings.TrimSpace(tok) == "" || strings.TrimSpace(userID) == "" {
		return Session{}, identity.OpError{Op: "session.Create", Kind: identity.ErrInvalidInput, Msg: "missing token or user"}
	}

	// Redis and memory stores have no foreign key to lean on.
	if _, err := m.users.GetUserByID(ctx, userID); err != nil {
		return Session{}, err
	}

	now := m.now()
	row := Row{
		ID:        SessionID(tok),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.Lifetime),
	}
	if err := m.store.Create(ctx, row); err != nil {
		return Session{}, err
	}

	metrics.Sessions.WithLabelValues("created").Inc()
	return Session{ID: row.ID, UserID: row.UserID, CreatedAt: row.CreatedAt, ExpiresAt: row.ExpiresAt}, nil
}

// Issue generates a token and creates its session.
func (m *Manager) Issue(ctx context.Context, userID string) (Issued, error) {
	tok, err := GenerateToken()
	if err != nil {
		return Issued{}, err
	}
	s, err := m.Create(ctx, tok, userID)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: tok, Session: s}, nil
}

// Validate resolves tok to its user and session.
//
// Missing, expired and orphaned sessions all yield ErrInvalidSession; the
// latter two are deleted on the way. A session inside its renew window is
// extended and returned with Fresh set.
func (m *Manager) Validate(ctx context.Context, tok string) (identity.User, Session, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" || len(tok) > 256 {
		return identity.User{}, Session{}, ErrInvalidSession
	}

	id := SessionID(tok)
	row, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			metrics.Sessions.WithLabelValues("rejected").Inc()
			return identity.User{}, Session{}, ErrInvalidSession
		}
		return identity.User{}, Session{}, err
	}

	now := m.now()
	if !now.Before(row.ExpiresAt) {
		if err := m.store.Delete(ctx, id); err != nil {
			m.log.Warn("session.expired.delete.fail", "err", err)
		}
		metrics.Sessions.WithLabelValues("expired").Inc()
		return identity.User{}, Session{}, ErrInvalidSession
	}

	user, err := m.users.GetUserByID(ctx, row.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			_ = m.store.Delete(ctx, id)
			metrics.Sessions.WithLabelValues("orphaned").Inc()
			return identity.User{}, Session{}, ErrInvalidSession
		}
		return identity.User{}, Session{}, err
	}

	s := Session{ID: row.ID, UserID: row.UserID, CreatedAt: row.CreatedAt, ExpiresAt: row.ExpiresAt}

	if !now.Before(row.ExpiresAt.Add(-m.cfg.RenewWindow)) {
		newExp := now.Add(m.cfg.Lifetime)
		ok, err := m.store.Extend(ctx, id, newExp)
		if err != nil {
			return identity.User{}, Session{}, err
		}
		if !ok {
			// Invalidated between Get and Extend.
			return identity.User{}, Session{}, ErrInvalidSession
		}
		s.ExpiresAt = newExp
		s.Fresh = true
		metrics.Sessions.WithLabelValues("renewed").Inc()
	}

	return user, s, nil
}

// Invalidate deletes a session. Missing sessions are ignored.
func (m *Manager) Invalidate(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	metrics.Sessions.WithLabelValues("invalidated").Inc()
	return nil
}

// InvalidateAllForUser deletes every session of userID.
func (m *Manager) InvalidateAllForUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	if err := m.store.DeleteAllForUser(ctx, userID); err != nil {
		return err
	}
	metrics.Sessions.WithLabelValues("invalidated_all").Inc()
	return nil
}
