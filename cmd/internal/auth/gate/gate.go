// Package gate resolves the caller's identity from the session cookie and
// guards handlers that need a member or an administrator.
//
// Identity is passed to handlers as an explicit argument rather than hidden
// in the request context.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/auth/session"
)

// Identity is the per-request view of who is calling.
type Identity struct {
	User    *identity.User
	Session *session.Session
}

// Authenticated reports whether a valid session was presented.
func (i Identity) Authenticated() bool { return i.User != nil && i.Session != nil }

// IsAdmin reports whether the caller is an authenticated administrator.
func (i Identity) IsAdmin() bool { return i.Authenticated() && i.User.IsAdmin }

// RequireAuthenticated returns identity.ErrUnauthorized for anonymous callers.
func RequireAuthenticated(id Identity) error {
	if !id.Authenticated() {
		return identity.ErrUnauthorized
	}
	return nil
}

// RequireAdmin returns identity.ErrUnauthorized for anonymous callers and
// identity.ErrForbidden for members without the admin flag.
func RequireAdmin(id Identity) error {
	if err := RequireAuthenticated(id); err != nil {
		return err
	}
	if !id.User.IsAdmin {
		return identity.ErrForbidden
	}
	return nil
}

// Sessions is the part of the session manager the gate needs.
type Sessions interface {
	Validate(ctx context.Context, tok string) (identity.User, session.Session, error)
	TokenFromRequest(r *http.Request) (string, bool)
	SetCookie(w http.ResponseWriter, tok string, expiresAt time.Time)
	ClearCookie(w http.ResponseWriter)
}

// Handler is an HTTP handler that receives the resolved identity.
type Handler func(w http.ResponseWriter, r *http.Request, id Identity)

// Gate resolves identities and wraps handlers with access rules.
type Gate struct {
	sessions    Sessions
	log         *slog.Logger
	loginPath   string
	membersPath string
}

// Option configures a Gate.
type Option func(*Gate)

// WithRedirects overrides the browser redirect targets.
func WithRedirects(loginPath, membersPath string) Option {
	return func(g *Gate) {
		if loginPath != "" {
			g.loginPath = loginPath
		}
		if membersPath != "" {
			g.membersPath = membersPath
		}
	}
}

// New constructs a Gate.
func New(sessions Sessions, log *slog.Logger, opts ...Option) *Gate {
	if log == nil {
		log = slog.Default()
	}
	g := &Gate{sessions: sessions, log: log, loginPath: "/login", membersPath: "/members"}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Resolve validates the session cookie on every call; nothing is cached.
// A renewed session re-issues the cookie and an invalid one clears it.
func (g *Gate) Resolve(w http.ResponseWriter, r *http.Request) Identity {
	tok, ok := g.sessions.TokenFromRequest(r)
	if !ok {
		return Identity{}
	}

	u, s, err := g.sessions.Validate(r.Context(), tok)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			g.sessions.ClearCookie(w)
		} else {
			// Store trouble: treat as anonymous but keep the cookie for the next request.
			g.log.Error("gate.resolve.fail", "err", err)
		}
		return Identity{}
	}

	if s.Fresh {
		g.sessions.SetCookie(w, tok, s.ExpiresAt)
	}
	return Identity{User: &u, Session: &s}
}

// Public resolves the identity and always calls h.
func (g *Gate) Public(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h(w, r, g.Resolve(w, r))
	}
}

// Member redirects anonymous browsers to the login page.
func (g *Gate) Member(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := g.Resolve(w, r)
		if err := RequireAuthenticated(id); err != nil {
			http.Redirect(w, r, g.loginPath, http.StatusFound)
			return
		}
		h(w, r, id)
	}
}

// Admin redirects anonymous browsers to login and members to the members area.
func (g *Gate) Admin(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := g.Resolve(w, r)
		switch err := RequireAdmin(id); {
		case errors.Is(err, identity.ErrUnauthorized):
			http.Redirect(w, r, g.loginPath, http.StatusFound)
			return
		case errors.Is(err, identity.ErrForbidden):
			g.log.Warn("gate.admin.denied", "user_id", id.User.ID)
			http.Redirect(w, r, g.membersPath, http.StatusFound)
			return
		}
		h(w, r, id)
	}
}

// MemberAPI answers anonymous callers with a JSON 401.
func (g *Gate) MemberAPI(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := g.Resolve(w, r)
		if err := RequireAuthenticated(id); err != nil {
			deny(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		h(w, r, id)
	}
}

// AdminAPI answers with a JSON 401 or 403.
func (g *Gate) AdminAPI(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := g.Resolve(w, r)
		switch err := RequireAdmin(id); {
		case errors.Is(err, identity.ErrUnauthorized):
			deny(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		case errors.Is(err, identity.ErrForbidden):
			deny(w, http.StatusForbidden, "forbidden", "administrator access required")
			return
		}
		h(w, r, id)
	}
}

func deny(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}
