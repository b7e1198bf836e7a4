package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/access"
	"clubhouse/cmd/internal/account"
	"clubhouse/cmd/internal/auth/gate"
	"clubhouse/cmd/internal/auth/session"
	"clubhouse/cmd/internal/verify"
	"clubhouse/cmd/security/password"
)

type testServer struct {
	t        *testing.T
	srv      http.Handler
	users    *identity.MemoryStore
	requests *access.MemoryStore
	sessions *session.Manager
	accounts *account.Service
	pw       password.Config
}

func cheapPasswords() password.Config {
	c := password.DefaultConfig()
	c.Params.MemoryKiB = 64
	c.Params.Iterations = 1
	return c
}

func newTestServer(t *testing.T, cfg Config, opts ...Option) *testServer {
	t.Helper()
	return newTestServerWithAccess(t, cfg, nil, opts...)
}

func newTestServerWithAccess(t *testing.T, cfg Config, accessOpts []access.Option, opts ...Option) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pw := cheapPasswords()

	users := identity.NewMemoryStore()
	mgr, err := session.NewManager(session.DefaultConfig(), session.NewMemoryStore(), users, session.WithLogger(log))
	require.NoError(t, err)

	reqs := access.NewMemoryStore(users)
	accessSvc, err := access.NewService(reqs, pw, append([]access.Option{access.WithLogger(log)}, accessOpts...)...)
	require.NoError(t, err)
	accounts, err := account.NewService(users, mgr, pw, account.WithLogger(log))
	require.NoError(t, err)

	h, err := NewHandler(log, cfg, gate.New(mgr, log), mgr, accessSvc, accounts, opts...)
	require.NoError(t, err)

	return &testServer{t: t, srv: h.Routes(), users: users, requests: reqs, sessions: mgr, accounts: accounts, pw: pw}
}

func (s *testServer) user(username, pw string, admin bool) identity.User {
	s.t.Helper()
	h, err := s.pw.Hash(pw)
	require.NoError(s.t, err)
	u, err := s.users.CreateUser(context.Background(), identity.CreateUserInput{
		Username: username, Email: username + "@example.com", PasswordHash: h, IsAdmin: admin,
	})
	require.NoError(s.t, err)
	return u
}

func (s *testServer) login(username, pw string) *http.Cookie {
	s.t.Helper()
	rr := s.do(http.MethodPost, "/login", jsonBody(map[string]string{"username": username, "password": pw}), nil)
	require.Equal(s.t, http.StatusSeeOther, rr.Code, rr.Body.String())
	return sessionCookie(s.t, rr)
}

func (s *testServer) do(method, path string, body io.Reader, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	s.srv.ServeHTTP(rr, req)
	return rr
}

func jsonBody(v any) io.Reader {
	b, _ := json.Marshal(v)
	return strings.NewReader(string(b))
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == "session" && c.Value != "" {
			return c
		}
	}
	t.Fatalf("no session cookie in response")
	return nil
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apiError {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body.Error
}

func TestLogin_RedirectsByRole(t *testing.T) {
	s := newTestServer(t, Config{})
	s.user("root", "rootroot", true)
	s.user("ada", "analytical", false)

	rr := s.do(http.MethodPost, "/login", jsonBody(map[string]string{"username": "root", "password": "rootroot"}), nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/admin", rr.Header().Get("Location"))
	sessionCookie(t, rr)

	form := url.Values{"username": {"ada@example.com"}, "password": {"analytical"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	s.srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/members", rr.Header().Get("Location"))
}

func TestLogin_FailureSetsNoCookie(t *testing.T) {
	s := newTestServer(t, Config{})
	s.user("ada", "analytical", false)

	rr := s.do(http.MethodPost, "/login", jsonBody(map[string]string{"username": "ada", "password": "wrong-pass"}), nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, rr.Result().Cookies())
	e := decodeError(t, rr)
	assert.Equal(t, "invalid_credentials", e.Code)
	assert.Equal(t, "ada", e.Values["username"])

	rr = s.do(http.MethodPost, "/login", jsonBody(map[string]string{"username": "", "password": "whatever"}), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(http.MethodPost, "/login", strings.NewReader(`{"username":"ada","bogus":1}`), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLoginPage_RedirectsAuthenticated(t *testing.T) {
	s := newTestServer(t, Config{})
	s.user("ada", "analytical", false)

	rr := s.do(http.MethodGet, "/login", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"authenticated":false}`, rr.Body.String())

	c := s.login("ada", "analytical")
	rr = s.do(http.MethodGet, "/login", nil, c)
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/members", rr.Header().Get("Location"))
}

func TestMembersAndAdminGates(t *testing.T) {
	s := newTestServer(t, Config{})
	s.user("root", "rootroot", true)
	s.user("ada", "analytical", false)

	rr := s.do(http.MethodGet, "/members", nil, nil)
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))

	member := s.login("ada", "analytical")
	rr = s.do(http.MethodGet, "/members", nil, member)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"username":"ada"`)

	rr = s.do(http.MethodGet, "/admin", nil, member)
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/members", rr.Header().Get("Location"))

	admin := s.login("root", "rootroot")
	rr = s.do(http.MethodGet, "/admin", nil, admin)
	require.Equal(t, http.StatusOK, rr.Code)
	var summary struct {
		PendingRequests int `json:"pendingRequests"`
		Users           int `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	assert.Equal(t, 0, summary.PendingRequests)
	assert.Equal(t, 2, summary.Users)
}

func TestLogout_ClearsCookieAndSession(t *testing.T) {
	s := newTestServer(t, Config{})
	s.user("ada", "analytical", false)
	c := s.login("ada", "analytical")

	rr := s.do(http.MethodPost, "/logout", nil, c)
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))

	var cleared bool
	for _, ck := range rr.Result().Cookies() {
		if ck.Name == "session" && ck.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)

	_, _, err := s.sessions.Validate(context.Background(), c.Value)
	assert.ErrorIs(t, err, session.ErrInvalidSession)

	rr = s.do(http.MethodPost, "/api/auth/logout", nil, nil)
	assert.Equal(t, http.StatusFound, rr.Code)
}

func validAccessBody() map[string]any {
	return map[string]any{
		"name":          "Ada Lovelace",
		"email":         "ada@example.com",
		"zipCode":       "94043",
		"reason":        "engines",
		"agreeToValues": true,
	}
}

func TestRequestAccess_APIRequiresAgreement(t *testing.T) {
	s := newTestServer(t, Config{})

	body := validAccessBody()
	delete(body, "agreeToValues")
	rr := s.do(http.MethodPost, "/api/request-access", jsonBody(body), nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	e := decodeError(t, rr)
	assert.Equal(t, "validation_failed", e.Code)
	assert.Contains(t, e.Fields, "agreeToValues")
	assert.Equal(t, "ada@example.com", e.Values["email"])

	rr = s.do(http.MethodPost, "/api/request-access", jsonBody(validAccessBody()), nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(http.MethodPost, "/api/request-access", jsonBody(validAccessBody()), nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, decodeError(t, rr).Fields, access.FieldPendingRequest)
}

type rejectingVerifier struct{}

func (rejectingVerifier) Verify(context.Context, string, string) error {
	return fmt.Errorf("%w: invalid-input-response", verify.ErrVerificationFailed)
}

func TestRequestAccess_FailedChallengeIsBadRequest(t *testing.T) {
	s := newTestServerWithAccess(t, Config{}, []access.Option{access.WithVerifier(rejectingVerifier{})})

	rr := s.do(http.MethodPost, "/api/request-access", jsonBody(validAccessBody()), nil)
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
	e := decodeError(t, rr)
	assert.Equal(t, "verification_failed", e.Code)
	assert.Equal(t, "Turnstile verification failed. Please try again.", e.Message)

	n, err := s.requests.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRequestAccess_FormWithoutAgreement(t *testing.T) {
	s := newTestServer(t, Config{})

	form := url.Values{
		"name": {"Ada Lovelace"}, "email": {"ada@example.com"}, "zipCode": {"94043"}, "reason": {"engines"},
	}
	req := httptest.NewRequest(http.MethodPost, "/request-access", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	s.srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	n, err := s.requests.CountPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAdmin_ApproveRejectFlow(t *testing.T) {
	s := newTestServer(t, Config{})
	s.user("root", "rootroot", true)
	admin := s.login("root", "rootroot")

	rr := s.do(http.MethodPost, "/api/request-access", jsonBody(validAccessBody()), nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	rr = s.do(http.MethodGet, "/admin/access-requests", nil, admin)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), created.ID)

	approve := "/admin/access-requests/" + created.ID + "/approve"
	rr = s.do(http.MethodPost, approve, jsonBody(map[string]string{"username": "ada", "password": "analytical"}), admin)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(http.MethodPost, approve, jsonBody(map[string]string{"username": "ada2", "password": "analytical"}), admin)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "invalid_state", decodeError(t, rr).Code)

	rr = s.do(http.MethodPost, "/admin/access-requests/"+created.ID+"/reject", nil, admin)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(http.MethodPost, "/admin/access-requests/not-a-uuid/reject", nil, admin)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(http.MethodGet, "/admin/access-requests?status=bogus", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	s.login("ada", "analytical")
}

func TestAdmin_UserManagement(t *testing.T) {
	s := newTestServer(t, Config{})
	root := s.user("root", "rootroot", true)
	ada := s.user("ada", "analytical", false)
	admin := s.login("root", "rootroot")

	rr := s.do(http.MethodPost, "/admin/users/"+root.ID+"/toggle-admin", nil, admin)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(http.MethodPost, "/admin/users/"+ada.ID+"/toggle-admin", nil, admin)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"isAdmin":true`)

	rr = s.do(http.MethodPost, "/admin/users/"+root.ID+"/delete", nil, admin)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(http.MethodPost, "/admin/users/"+ada.ID+"/delete", nil, admin)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(http.MethodGet, "/admin/users", nil, admin)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), ada.ID)
}

func TestChangePassword_ReissuesCookie(t *testing.T) {
	s := newTestServer(t, Config{})
	s.user("ada", "analytical", false)
	old := s.login("ada", "analytical")

	rr := s.do(http.MethodPost, "/change-password", jsonBody(map[string]string{
		"currentPassword": "analytical", "newPassword": "difference", "confirmPassword": "difference",
	}), old)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	fresh := sessionCookie(t, rr)
	assert.NotEqual(t, old.Value, fresh.Value)

	rr = s.do(http.MethodGet, "/members", nil, old)
	assert.Equal(t, http.StatusFound, rr.Code)
	rr = s.do(http.MethodGet, "/members", nil, fresh)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUpdateAccountAndDelete(t *testing.T) {
	s := newTestServer(t, Config{})
	s.user("root", "rootroot", true)
	s.user("ada", "analytical", false)
	c := s.login("ada", "analytical")

	rr := s.do(http.MethodPost, "/profile/account", jsonBody(map[string]string{"username": "root", "email": "ada@example.com"}), c)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, decodeError(t, rr).Fields, "username")

	rr = s.do(http.MethodPost, "/profile/account", jsonBody(map[string]string{"username": "countess", "email": "ada@example.com"}), c)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(http.MethodPost, "/delete-account", jsonBody(map[string]any{"password": "analytical", "confirm": true}), c)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))

	rr = s.do(http.MethodGet, "/members", nil, c)
	assert.Equal(t, http.StatusFound, rr.Code)
}

func TestDevCreateAdmin(t *testing.T) {
	body := map[string]string{"username": "root", "password": "rootroot", "secretKey": "letmein"}

	prod := newTestServer(t, Config{Production: true, DevAdminSecret: "letmein"})
	rr := prod.do(http.MethodPost, "/api/admin/create", jsonBody(body), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	s := newTestServer(t, Config{DevAdminSecret: "letmein"})
	wrong := map[string]string{"username": "root", "password": "rootroot", "secretKey": "nope"}
	rr = s.do(http.MethodPost, "/api/admin/create", jsonBody(wrong), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = s.do(http.MethodPost, "/api/admin/create", jsonBody(body), nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"isAdmin":true`)

	rr = s.do(http.MethodPost, "/api/admin/create", jsonBody(body), nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

type recordingFeed struct{ called bool }

func (f *recordingFeed) Serve(w http.ResponseWriter, _ *http.Request, _ gate.Identity) {
	f.called = true
	w.WriteHeader(http.StatusTeapot)
}

func TestFeed_AdminOnlyJSON(t *testing.T) {
	feed := &recordingFeed{}
	s := newTestServer(t, Config{}, WithFeed(feed))
	s.user("root", "rootroot", true)
	s.user("ada", "analytical", false)

	rr := s.do(http.MethodGet, "/admin/feed", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rr).Code)

	rr = s.do(http.MethodGet, "/admin/feed", nil, s.login("ada", "analytical"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.False(t, feed.called)

	rr = s.do(http.MethodGet, "/admin/feed", nil, s.login("root", "rootroot"))
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.True(t, feed.called)
}

func TestHealthAndReadiness(t *testing.T) {
	ready := false
	s := newTestServer(t, Config{}, WithReadiness(func(context.Context) error {
		if !ready {
			return identity.ErrExternal
		}
		return nil
	}))

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", nil, nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/readyz", nil, nil).Code)
	ready = true
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/readyz", nil, nil).Code)

	rr := s.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "clubhouse_")
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{identity.Invalid("op", "f", "bad"), http.StatusBadRequest, "validation_failed"},
		{identity.OpError{Op: "op", Kind: identity.ErrInvalidCredentials}, http.StatusUnauthorized, "invalid_credentials"},
		{identity.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{identity.OpError{Op: "op", Kind: identity.ErrForbidden, Msg: "no"}, http.StatusForbidden, "forbidden"},
		{identity.NotFoundError{Op: "op", Resource: "user"}, http.StatusNotFound, "not_found"},
		{identity.ConflictError{Op: "op", Field: "email"}, http.StatusConflict, "conflict"},
		{identity.ErrLastAdmin, http.StatusConflict, "invalid_state"},
		{identity.External("op", io.ErrUnexpectedEOF), http.StatusBadGateway, "external_failure"},
		{fmt.Errorf("%w: invalid-input-response", verify.ErrVerificationFailed), http.StatusBadRequest, "verification_failed"},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, body := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, body.Code, tc.err.Error())
	}
}
