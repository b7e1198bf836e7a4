package session

import (
	"net/http"
	"strings"
	"time"
)

// SetCookie writes the session cookie carrying tok.
func (m *Manager) SetCookie(w http.ResponseWriter, tok string, expiresAt time.Time) {
	if m == nil || w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    tok,
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		Expires:  expiresAt,
		MaxAge:   int(m.cfg.Lifetime / time.Second),
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: m.cfg.CookieSameSite,
	})
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	if m == nil || w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.CookieSecure,
		SameSite: m.cfg.CookieSameSite,
	})
}

// TokenFromRequest returns the raw token from the session cookie.
func (m *Manager) TokenFromRequest(r *http.Request) (string, bool) {
	if m == nil || r == nil {
		return "", false
	}
	c, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	if v == "" {
		return "", false
	}
	return v, true
}
