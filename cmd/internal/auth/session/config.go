package session

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Backend selects the session store.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
	BackendMemory   Backend = "memory"
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Lifetime is how long a session lives after creation or renewal.
	Lifetime time.Duration

	// RenewWindow: a session validated with less than this left is extended.
	RenewWindow time.Duration

	CookieName     string
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite

	Backend Backend
}

// DefaultConfig returns the 30-day / 15-day policy with a non-secure cookie for local development.
func DefaultConfig() Config {
	return Config{
		Lifetime:       30 * 24 * time.Hour,
		RenewWindow:    15 * 24 * time.Hour,
		CookieName:     "session",
		CookiePath:     "/",
		CookieSameSite: http.SameSiteLaxMode,
		Backend:        BackendPostgres,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations are Go duration strings):
//   - CLUB_SESSION_LIFETIME
//   - CLUB_SESSION_RENEW_WINDOW
//   - CLUB_SESSION_COOKIE
//   - CLUB_SESSION_COOKIE_DOMAIN
//   - CLUB_SESSION_BACKEND (postgres|redis|memory)
//
// CookieSecure is left to the caller, which knows whether it runs in production.
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("CLUB_SESSION_LIFETIME")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("%w: CLUB_SESSION_LIFETIME", ErrConfig)
		}
		cfg.Lifetime = d
	}

	if v := strings.TrimSpace(os.Getenv("CLUB_SESSION_RENEW_WINDOW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%w: CLUB_SESSION_RENEW_WINDOW", ErrConfig)
		}
		cfg.RenewWindow = d
	}

	if v := strings.TrimSpace(os.Getenv("CLUB_SESSION_COOKIE")); v != "" {
		if strings.ContainsAny(v, " ;,=\t") {
			return Config{}, fmt.Errorf("%w: CLUB_SESSION_COOKIE", ErrConfig)
		}
		cfg.CookieName = v
	}

	cfg.CookieDomain = strings.TrimSpace(os.Getenv("CLUB_SESSION_COOKIE_DOMAIN"))

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("CLUB_SESSION_BACKEND"))); v != "" {
		switch Backend(v) {
		case BackendPostgres, BackendRedis, BackendMemory:
			cfg.Backend = Backend(v)
		default:
			return Config{}, fmt.Errorf("%w: CLUB_SESSION_BACKEND", ErrConfig)
		}
	}

	if cfg.RenewWindow >= cfg.Lifetime {
		return Config{}, fmt.Errorf("%w: renew window must be shorter than lifetime", ErrConfig)
	}

	return cfg, nil
}
