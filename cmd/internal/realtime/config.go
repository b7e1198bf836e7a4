package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GatewayConfig controls the admin feed endpoint.
type GatewayConfig struct {
	// AllowedOrigins lists full origins (scheme://host[:port]); "*" allows any.
	AllowedOrigins []string
	OriginRequired bool

	SendQueue        int
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	WriteTimeout     time.Duration
	RateEvents       int
	RateWindow       time.Duration
}

// DefaultGatewayConfig allows only local origins.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
		OriginRequired:   true,
		SendQueue:        defaultSendQueue,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		WriteTimeout:     writeTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// LoadGatewayConfigFromEnv applies CLUB_FEED_* overrides to the defaults.
// Unparseable values keep the default.
func LoadGatewayConfigFromEnv() GatewayConfig {
	cfg := DefaultGatewayConfig()
	if v := envCSV("CLUB_FEED_ALLOWED_ORIGINS"); len(v) > 0 {
		cfg.AllowedOrigins = v
	}
	cfg.OriginRequired = envBool("CLUB_FEED_ORIGIN_REQUIRED", cfg.OriginRequired)
	cfg.SendQueue = envInt("CLUB_FEED_SEND_QUEUE", cfg.SendQueue)
	cfg.HeartbeatEvery = envDuration("CLUB_FEED_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery)
	cfg.HeartbeatTimeout = envDuration("CLUB_FEED_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	return cfg
}

func (c GatewayConfig) normalized() GatewayConfig {
	d := DefaultGatewayConfig()
	switch {
	case c.SendQueue <= 0:
		c.SendQueue = d.SendQueue
	case c.SendQueue < minSendQueue:
		c.SendQueue = minSendQueue
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSV(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
