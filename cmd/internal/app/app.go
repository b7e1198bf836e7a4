// Package app wires the clubhouse server runtime: config, logging, storage,
// sessions, the admin feed and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"clubhouse/cmd/identity"
	"clubhouse/cmd/internal/access"
	"clubhouse/cmd/internal/account"
	"clubhouse/cmd/internal/auth/gate"
	"clubhouse/cmd/internal/auth/session"
	"clubhouse/cmd/internal/migrations"
	"clubhouse/cmd/internal/realtime"
	"clubhouse/cmd/internal/relay"
	"clubhouse/cmd/internal/verify"
	"clubhouse/cmd/internal/web"
	"clubhouse/cmd/security/password"
)

// sweeper deletes expired sessions. Only the Postgres store needs it; Redis
// keys expire on their own and the memory store dies with the process.
type sweeper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// App is the server runtime. It owns the pool and Redis client lifecycles.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	redis  *redis.Client

	sweep   sweeper
	handler http.Handler
}

// New constructs a fully wired App from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	ctx := context.Background()
	a := &App{cfg: cfg, log: log}

	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	users, accessStore, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	sessCfg.CookieSecure = cfg.Production()

	sessStore, err := a.sessionStore(ctx, sessCfg.Backend)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewManager(sessCfg, sessStore, users, session.WithLogger(log))
	if err != nil {
		return nil, err
	}

	passwords, err := password.FromEnv()
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(log)
	feed := realtime.NewGateway(log, hub, realtime.LoadGatewayConfigFromEnv(), realtime.WithSessionCheck(sessions))

	var verifier verify.Verifier = verify.Noop{}
	if cfg.TurnstileSecret != "" {
		verifier = verify.NewTurnstile(cfg.TurnstileSecret)
	}
	var relayer relay.Relayer = relay.Noop{}
	if cfg.FormspreeFormID != "" {
		relayer = relay.NewFormspree(cfg.FormspreeFormID)
	}

	accessSvc, err := access.NewService(accessStore, passwords,
		access.WithVerifier(verifier),
		access.WithRelayer(relayer),
		access.WithPublisher(hub),
		access.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	accounts, err := account.NewService(users, sessions, passwords,
		account.WithPublisher(hub),
		account.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	h, err := web.NewHandler(log, web.Config{
		MaxBodyBytes:       cfg.MaxBodyBytes,
		Production:         cfg.Production(),
		DevAdminSecret:     cfg.DevAdminSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TrustProxy:         cfg.TrustProxy,
	}, gate.New(sessions, log), sessions, accessSvc, accounts,
		web.WithFeed(feed),
		web.WithReadiness(a.ready),
	)
	if err != nil {
		return nil, err
	}

	a.handler = WithSecurityHeaders(WithRequestLogging(h.Routes(), log))
	ok = true

	log.Info("app.ready",
		"db_enabled", a.dbPool != nil,
		"session_backend", string(sessCfg.Backend),
		"turnstile", cfg.TurnstileSecret != "",
		"formspree", cfg.FormspreeFormID != "",
	)
	return a, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// openStores picks Postgres when CLUB_DATABASE_URL is set and in-memory
// stores otherwise.
func (a *App) openStores(ctx context.Context) (identity.Store, access.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		users := identity.NewMemoryStore()
		return users, access.NewMemoryStore(users), nil
	}

	if a.cfg.MigrateOnStart {
		if err := migrations.Apply(ctx, a.cfg.DatabaseURL, a.cfg.DBSchema); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		a.log.Info("db.migrated", "schema", a.cfg.DBSchema)
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	a.dbPool = pool

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, err
	}
	requests, err := access.NewPostgresStore(pool, access.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, err
	}

	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)
	return users, requests, nil
}

func (a *App) sessionStore(ctx context.Context, backend session.Backend) (session.Store, error) {
	switch backend {
	case session.BackendRedis:
		if a.cfg.RedisAddr == "" {
			return nil, errors.New("session backend redis requires CLUB_REDIS_ADDR")
		}
		rdb, err := NewRedisClient(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = rdb
		return session.NewRedisStore(rdb, session.WithKeyPrefix("club:")), nil

	case session.BackendPostgres:
		if a.dbPool == nil {
			a.log.Warn("session.backend.fallback", "want", string(backend), "use", string(session.BackendMemory))
			return session.NewMemoryStore(), nil
		}
		st, err := session.NewPostgresStore(a.dbPool, session.WithSchema(a.cfg.DBSchema))
		if err != nil {
			return nil, err
		}
		a.sweep = st
		return st, nil

	default:
		return session.NewMemoryStore(), nil
	}
}

// ready backs /readyz. A missing database only fails readiness when
// CLUB_READINESS_REQUIRE_DB is set.
func (a *App) ready(ctx context.Context) error {
	if a.dbPool == nil {
		if a.cfg.ReadinessRequireDB {
			return errors.New("database not configured")
		}
	} else if err := PingDB(ctx, a.dbPool, 2*time.Second); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.redis != nil {
		if err := PingRedis(ctx, a.redis, 2*time.Second); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if a.sweep != nil {
		go a.sweepSessions(sweepCtx, nonZeroDuration(a.cfg.SessionSweepInterval, time.Hour))
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "env", a.cfg.Env)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func (a *App) sweepSessions(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := a.sweep.DeleteExpired(ctx, now)
			if err != nil {
				if ctx.Err() == nil {
					a.log.Warn("session.sweep.fail", "err", err)
				}
				continue
			}
			if n > 0 {
				a.log.Info("session.sweep", "deleted", n)
			}
		}
	}
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
