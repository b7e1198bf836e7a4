// Package web is the HTTP surface: chi routes that decode requests, call the
// access and account services, and translate results into JSON, cookies and
// redirects.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"clubhouse/cmd/internal/access"
	"clubhouse/cmd/internal/account"
	"clubhouse/cmd/internal/auth/gate"
	"clubhouse/cmd/internal/metrics"
)

// Config controls request limits and the dev-only admin endpoint.
type Config struct {
	MaxBodyBytes int64

	// Production disables POST /api/admin/create regardless of DevAdminSecret.
	Production     bool
	DevAdminSecret string

	// CORSAllowedOrigins applies to /api routes only; empty disables CORS.
	CORSAllowedOrigins []string

	// TrustProxy makes X-Forwarded-For / X-Real-IP the client address.
	TrustProxy bool
}

// Cookies writes and clears the session cookie.
type Cookies interface {
	SetCookie(w http.ResponseWriter, tok string, expiresAt time.Time)
	ClearCookie(w http.ResponseWriter)
}

// Feed serves the admin WebSocket feed.
type Feed interface {
	Serve(w http.ResponseWriter, r *http.Request, id gate.Identity)
}

// ReadyFunc reports whether dependencies (database, Redis) can serve traffic.
type ReadyFunc func(ctx context.Context) error

// Handler owns the HTTP routes.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	gate     *gate.Gate
	cookies  Cookies
	access   *access.Service
	accounts *account.Service
	feed     Feed
	ready    ReadyFunc
}

// Option configures optional Handler dependencies.
type Option func(*Handler)

// WithFeed mounts the admin feed at /admin/feed.
func WithFeed(f Feed) Option {
	return func(h *Handler) {
		if f != nil {
			h.feed = f
		}
	}
}

// WithReadiness sets the /readyz probe.
func WithReadiness(fn ReadyFunc) Option {
	return func(h *Handler) {
		if fn != nil {
			h.ready = fn
		}
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, g *gate.Gate, cookies Cookies, accessSvc *access.Service, accounts *account.Service, opts ...Option) (*Handler, error) {
	if g == nil || cookies == nil || accessSvc == nil || accounts == nil {
		return nil, errors.New("web: missing gate, cookies or services")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	h := &Handler{
		log:      log,
		cfg:      cfg,
		gate:     g,
		cookies:  cookies,
		access:   accessSvc,
		accounts: accounts,
		ready:    func(context.Context) error { return nil },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	if h.cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(observe)

	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	g := h.gate

	r.Get("/login", g.Public(h.handleLoginPage))
	r.Post("/login", g.Public(h.handleLogin))
	r.Post("/logout", g.Public(h.handleLogout))
	r.Post("/request-access", g.Public(h.handleRequestAccessForm))

	r.Get("/members", g.Member(h.handleMembers))
	r.Post("/change-password", g.Member(h.handleChangePassword))
	r.Post("/profile/account", g.Member(h.handleUpdateAccount))
	r.Post("/delete-account", g.Member(h.handleDeleteAccount))

	r.Route("/admin", func(r chi.Router) {
		r.Get("/", g.Admin(h.handleAdminSummary))
		r.Get("/access-requests", g.Admin(h.handleListRequests))
		r.Post("/access-requests/{id}/approve", g.Admin(h.handleApprove))
		r.Post("/access-requests/{id}/reject", g.Admin(h.handleReject))
		r.Get("/users", g.Admin(h.handleListUsers))
		r.Post("/users/{id}/toggle-admin", g.Admin(h.handleToggleAdmin))
		r.Post("/users/{id}/delete", g.Admin(h.handleDeleteUser))
		if h.feed != nil {
			r.Get("/feed", g.AdminAPI(h.feed.Serve))
		}
	})

	r.Route("/api", func(r chi.Router) {
		if len(h.cfg.CORSAllowedOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   h.cfg.CORSAllowedOrigins,
				AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders:   []string{"Content-Type"},
				AllowCredentials: true,
				MaxAge:           600,
			}))
		}
		r.Post("/request-access", g.Public(h.handleRequestAccessAPI))
		r.Post("/auth/logout", g.Public(h.handleLogout))
		r.Post("/admin/create", h.handleDevCreateAdmin)
	})

	return r
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.ready(ctx); err != nil {
		h.log.Info("readyz.not_ready", "err", err)
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

// observe records the request duration under the matched route pattern,
// which keeps label cardinality bounded.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTP(r.Method, route, status, time.Since(start))
	})
}
