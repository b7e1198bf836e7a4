package session

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"CLUB_SESSION_LIFETIME", "CLUB_SESSION_RENEW_WINDOW", "CLUB_SESSION_COOKIE", "CLUB_SESSION_BACKEND"} {
		t.Setenv(k, "")
	}

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Lifetime != 30*24*time.Hour || cfg.RenewWindow != 15*24*time.Hour {
		t.Fatalf("unexpected durations: %v / %v", cfg.Lifetime, cfg.RenewWindow)
	}
	if cfg.CookieName != "session" || cfg.Backend != BackendPostgres {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	t.Setenv("CLUB_SESSION_LIFETIME", "-5m")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for negative lifetime, got %v", err)
	}
}

func TestLoadConfigFromEnv_WindowMustBeShorterThanLifetime(t *testing.T) {
	t.Setenv("CLUB_SESSION_LIFETIME", "24h")
	t.Setenv("CLUB_SESSION_RENEW_WINDOW", "48h")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadConfigFromEnv_UnknownBackend(t *testing.T) {
	t.Setenv("CLUB_SESSION_BACKEND", "memcached")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("CLUB_SESSION_LIFETIME", "720h")
	t.Setenv("CLUB_SESSION_RENEW_WINDOW", "24h")
	t.Setenv("CLUB_SESSION_COOKIE", "club_session")
	t.Setenv("CLUB_SESSION_BACKEND", "Redis")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Lifetime != 720*time.Hour {
		t.Fatalf("lifetime mismatch: %v", cfg.Lifetime)
	}
	if cfg.RenewWindow != 24*time.Hour {
		t.Fatalf("renew window mismatch: %v", cfg.RenewWindow)
	}
	if cfg.CookieName != "club_session" {
		t.Fatalf("cookie name mismatch: %q", cfg.CookieName)
	}
	if cfg.Backend != BackendRedis {
		t.Fatalf("backend mismatch: %q", cfg.Backend)
	}
}
