package gate

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/auth/session"
)

type fixture struct {
	gate   *Gate
	mgr    *session.Manager
	member session.Issued
	admin  session.Issued
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	users := identity.NewMemoryStore()
	m, err := users.CreateUser(ctx, identity.CreateUserInput{Username: "mem", Email: "mem@example.com", PasswordHash: "d"})
	require.NoError(t, err)
	a, err := users.CreateUser(ctx, identity.CreateUserInput{Username: "adm", Email: "adm@example.com", PasswordHash: "d", IsAdmin: true})
	require.NoError(t, err)

	mgr, err := session.NewManager(session.DefaultConfig(), session.NewMemoryStore(), users)
	require.NoError(t, err)

	mi, err := mgr.Issue(ctx, m.ID)
	require.NoError(t, err)
	ai, err := mgr.Issue(ctx, a.ID)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return fixture{gate: New(mgr, log), mgr: mgr, member: mi, admin: ai}
}

func request(tok string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	if tok != "" {
		r.AddCookie(&http.Cookie{Name: "session", Value: tok})
	}
	return r
}

func ok(w http.ResponseWriter, _ *http.Request, _ Identity) { w.WriteHeader(http.StatusTeapot) }

func TestPredicates(t *testing.T) {
	assert.ErrorIs(t, RequireAuthenticated(Identity{}), identity.ErrUnauthorized)
	assert.ErrorIs(t, RequireAdmin(Identity{}), identity.ErrUnauthorized)

	u := identity.User{ID: "u"}
	s := session.Session{ID: "s"}
	assert.NoError(t, RequireAuthenticated(Identity{User: &u, Session: &s}))
	assert.ErrorIs(t, RequireAdmin(Identity{User: &u, Session: &s}), identity.ErrForbidden)

	u.IsAdmin = true
	assert.NoError(t, RequireAdmin(Identity{User: &u, Session: &s}))
}

func TestBrowserWrappers(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name     string
		h        http.HandlerFunc
		tok      string
		status   int
		location string
	}{
		{"member anon", f.gate.Member(ok), "", http.StatusFound, "/login"},
		{"member ok", f.gate.Member(ok), f.member.Token, http.StatusTeapot, ""},
		{"admin anon", f.gate.Admin(ok), "", http.StatusFound, "/login"},
		{"admin as member", f.gate.Admin(ok), f.member.Token, http.StatusFound, "/members"},
		{"admin ok", f.gate.Admin(ok), f.admin.Token, http.StatusTeapot, ""},
		{"public anon", f.gate.Public(ok), "", http.StatusTeapot, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tc.h(rr, request(tc.tok))
			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.location, rr.Header().Get("Location"))
		})
	}
}

func TestAPIWrappers(t *testing.T) {
	f := newFixture(t)

	rr := httptest.NewRecorder()
	f.gate.MemberAPI(ok)(rr, request(""))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), `"code":"unauthorized"`)

	rr = httptest.NewRecorder()
	f.gate.AdminAPI(ok)(rr, request(f.member.Token))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	f.gate.AdminAPI(ok)(rr, request(f.admin.Token))
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestResolve_InvalidCookieIsCleared(t *testing.T) {
	f := newFixture(t)

	rr := httptest.NewRecorder()
	id := f.gate.Resolve(rr, request("bogus"))
	assert.False(t, id.Authenticated())

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
	assert.True(t, cookies[0].MaxAge < 0)
}

func TestResolve_NoCaching(t *testing.T) {
	f := newFixture(t)

	rr := httptest.NewRecorder()
	id := f.gate.Resolve(rr, request(f.member.Token))
	require.True(t, id.Authenticated())

	require.NoError(t, f.mgr.Invalidate(context.Background(), id.Session.ID))

	id = f.gate.Resolve(httptest.NewRecorder(), request(f.member.Token))
	assert.False(t, id.Authenticated())
}
