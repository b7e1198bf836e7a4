package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"CLUB_ENV", "CLUB_HTTP_ADDR", "CLUB_DB_SCHEMA", "CLUB_CORS_ALLOWED_ORIGINS", "CLUB_SESSION_SWEEP_INTERVAL"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	if cfg.Env != "development" || cfg.Production() {
		t.Fatalf("env=%q production=%v", cfg.Env, cfg.Production())
	}
	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("addr=%q", cfg.HTTPAddr)
	}
	if cfg.DBSchema != "clubhouse" {
		t.Fatalf("schema=%q", cfg.DBSchema)
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("origins=%v want none", cfg.CORSAllowedOrigins)
	}
	if cfg.SessionSweepInterval != time.Hour {
		t.Fatalf("sweep=%v", cfg.SessionSweepInterval)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("CLUB_ENV", "Production")
	t.Setenv("CLUB_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("CLUB_HTTP_MAX_BODY_BYTES", "4096")
	t.Setenv("CLUB_REDIS_DB", "0")
	t.Setenv("CLUB_MIGRATE_ON_START", "true")
	t.Setenv("CLUB_CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example ")
	t.Setenv("CLUB_SESSION_SWEEP_INTERVAL", "10m")
	t.Setenv("CLUB_DB_MAX_CONNS", "not-a-number")

	cfg := LoadConfig()
	if !cfg.Production() {
		t.Fatalf("expected production, env=%q", cfg.Env)
	}
	if cfg.HTTPAddr != "127.0.0.1:9000" || cfg.MaxBodyBytes != 4096 {
		t.Fatalf("addr=%q body=%d", cfg.HTTPAddr, cfg.MaxBodyBytes)
	}
	if cfg.RedisDB != 0 || !cfg.MigrateOnStart {
		t.Fatalf("redisDB=%d migrate=%v", cfg.RedisDB, cfg.MigrateOnStart)
	}
	if strings.Join(cfg.CORSAllowedOrigins, "|") != "https://a.example|https://b.example" {
		t.Fatalf("origins=%v", cfg.CORSAllowedOrigins)
	}
	if cfg.SessionSweepInterval != 10*time.Minute {
		t.Fatalf("sweep=%v", cfg.SessionSweepInterval)
	}
	if cfg.DBMaxConns != 10 {
		t.Fatalf("max conns=%d; invalid value should keep default", cfg.DBMaxConns)
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	longKey := strings.Repeat("k", 32)

	cases := []struct {
		name    string
		cfg     Config
		hmacKey string
		wantErr string
	}{
		{name: "development without key", cfg: Config{Env: "development"}},
		{name: "hmac required but missing", cfg: Config{RequireTokenHMAC: true}, wantErr: "CLUB_TOKEN_HMAC_KEY is required"},
		{name: "hmac too short", cfg: Config{RequireTokenHMAC: true}, hmacKey: "short", wantErr: "too short"},
		{name: "hmac required and set", cfg: Config{RequireTokenHMAC: true}, hmacKey: longKey},
		{name: "production without key", cfg: Config{Env: "production", TurnstileSecret: "s"}, wantErr: "CLUB_TOKEN_HMAC_KEY"},
		{name: "production without turnstile", cfg: Config{Env: "production"}, hmacKey: longKey, wantErr: "CLUB_TURNSTILE_SECRET"},
		{name: "production placeholder secret", cfg: Config{Env: "production", TurnstileSecret: "s", DevAdminSecret: DefaultDevAdminSecret}, hmacKey: longKey, wantErr: "placeholder"},
		{name: "production ok", cfg: Config{Env: "production", TurnstileSecret: "s"}, hmacKey: longKey},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("CLUB_TOKEN_HMAC_KEY", tc.hmacKey)

			err := ValidateSecurityConfig(tc.cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestNew_InMemory(t *testing.T) {
	t.Setenv("CLUB_SESSION_BACKEND", "memory")
	t.Setenv("CLUB_TOKEN_HMAC_KEY", "")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(Config{Env: "development", MaxBodyBytes: 1 << 20}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.close)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status=%d", path, resp.StatusCode)
		}
		if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
			t.Fatalf("GET %s missing security headers", path)
		}
	}
}

func TestNew_ReadinessRequiresDB(t *testing.T) {
	t.Setenv("CLUB_SESSION_BACKEND", "memory")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(Config{ReadinessRequireDB: true}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.close)

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want=503", rr.Code)
	}
}

func TestNew_RedisBackendNeedsAddr(t *testing.T) {
	t.Setenv("CLUB_SESSION_BACKEND", "redis")

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := New(Config{}, log); err == nil || !strings.Contains(err.Error(), "CLUB_REDIS_ADDR") {
		t.Fatalf("err=%v want CLUB_REDIS_ADDR error", err)
	}
}

func TestEnvCSV(t *testing.T) {
	t.Setenv("CLUB_TEST_CSV", "a, b,,c ")
	got := EnvCSV("CLUB_TEST_CSV")
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("EnvCSV=%v", got)
	}
	if EnvCSV("CLUB_TEST_CSV_UNSET") != nil {
		t.Fatalf("unset var should yield nil")
	}
}
