package app

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"clubhouse/cmd/identity"
)

// DefaultDevAdminSecret is the placeholder shipped in .env.example. It is
// rejected in production.
// #nosec G101 -- placeholder, not a credential.
const DefaultDevAdminSecret = "change-me"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	// Env is "development" (default) or "production".
	Env string

	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | pretty

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64

	DatabaseURL    string
	DBSchema       string
	DBMaxConns     int32
	DBMinConns     int32
	MigrateOnStart bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// If true, CLUB_TOKEN_HMAC_KEY must be set (>= 32 bytes). Always on in production.
	RequireTokenHMAC bool

	TurnstileSecret string
	FormspreeFormID string

	DevAdminSecret string

	CORSAllowedOrigins []string
	TrustProxy         bool

	// SessionSweepInterval controls the expired-session cleanup for the Postgres backend.
	SessionSweepInterval time.Duration
}

// Production reports whether the server runs with production policy.
func (c Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// LoadDotEnv loads the given files (default ".env") into the environment.
// Variables already set win, and a missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		Env:       EnvString("CLUB_ENV", "development"),
		HTTPAddr:  EnvString("CLUB_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("CLUB_LOG_LEVEL", "info"),
		LogFormat: EnvString("CLUB_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CLUB_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CLUB_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CLUB_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CLUB_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("CLUB_HTTP_MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(EnvInt("CLUB_HTTP_MAX_BODY_BYTES", 1<<20)),

		DatabaseURL:    EnvString("CLUB_DATABASE_URL", ""),
		DBSchema:       EnvString("CLUB_DB_SCHEMA", identity.DefaultSchema),
		DBMaxConns:     EnvInt32("CLUB_DB_MAX_CONNS", 10),
		DBMinConns:     EnvInt32("CLUB_DB_MIN_CONNS", 0),
		MigrateOnStart: EnvBool("CLUB_MIGRATE_ON_START", false),

		ReadinessRequireDB: EnvBool("CLUB_READINESS_REQUIRE_DB", false),

		RedisAddr:     EnvString("CLUB_REDIS_ADDR", ""),
		RedisPassword: EnvString("CLUB_REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("CLUB_REDIS_DB", 0),

		RequireTokenHMAC: EnvBool("CLUB_REQUIRE_TOKEN_HMAC", false),

		TurnstileSecret: EnvString("CLUB_TURNSTILE_SECRET", ""),
		FormspreeFormID: EnvString("CLUB_FORMSPREE_FORM_ID", ""),

		DevAdminSecret: EnvString("CLUB_DEV_ADMIN_SECRET", ""),

		CORSAllowedOrigins: EnvCSV("CLUB_CORS_ALLOWED_ORIGINS"),
		TrustProxy:         EnvBool("CLUB_TRUST_PROXY", false),

		SessionSweepInterval: EnvDuration("CLUB_SESSION_SWEEP_INTERVAL", time.Hour),
	}
}
