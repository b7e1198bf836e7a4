package password

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation.
type Policy struct {
	MinLength int
	MaxLength int
	// ChangeMinLength is the floor for self-service password changes.
	ChangeMinLength int
	// RejectVeryWeak enables a minimal weak-pattern rejection on top of the length rules.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the baseline used for member credentials.
// Cost parameters match the ones the bootstrap path has always used
// (19 MiB, t=2, p=1), so those digests never report a rehash.
func DefaultConfig() Config {
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   19456,
			Iterations:  2,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:       6,
			MaxLength:       255,
			ChangeMinLength: 8,
			RejectVeryWeak:  false,
		},
	}
}

// uintSetting describes one bounded unsigned env override.
type uintSetting struct {
	key      string
	min, max uint32
	apply    func(*Config, uint32) error
}

var uintSettings = []uintSetting{
	{"CLUB_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(c *Config, u uint32) error { c.Params.MemoryKiB = u; return nil }},
	{"CLUB_ARGON2_ITERATIONS", 1, 20, func(c *Config, u uint32) error { c.Params.Iterations = u; return nil }},
	{"CLUB_ARGON2_PARALLELISM", 1, 64, func(c *Config, u uint32) error {
		p, err := u32ToU8(u)
		if err != nil {
			return err
		}
		c.Params.Parallelism = p
		return nil
	}},
	{"CLUB_ARGON2_SALT_LEN", 8, 64, func(c *Config, u uint32) error { c.Params.SaltLength = u; return nil }},
	{"CLUB_ARGON2_KEY_LEN", 16, 64, func(c *Config, u uint32) error { c.Params.KeyLength = u; return nil }},
	{"CLUB_PASSWORD_MIN_LEN", 1, 1024, func(c *Config, u uint32) error { c.Policy.MinLength = int(u); return nil }},
	{"CLUB_PASSWORD_MAX_LEN", 1, 4096, func(c *Config, u uint32) error { c.Policy.MaxLength = int(u); return nil }},
	{"CLUB_PASSWORD_CHANGE_MIN_LEN", 1, 1024, func(c *Config, u uint32) error { c.Policy.ChangeMinLength = int(u); return nil }},
}

// FromEnv loads config from environment variables on top of DefaultConfig.
//
// Env surface:
//   - CLUB_PASSWORD_MIN_LEN, CLUB_PASSWORD_MAX_LEN, CLUB_PASSWORD_CHANGE_MIN_LEN
//   - CLUB_PASSWORD_REJECT_VERY_WEAK (true/false)
//   - CLUB_ARGON2_MEMORY_KIB, CLUB_ARGON2_ITERATIONS, CLUB_ARGON2_PARALLELISM
//   - CLUB_ARGON2_SALT_LEN, CLUB_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	for _, s := range uintSettings {
		v, ok := os.LookupEnv(s.key)
		if !ok {
			continue
		}
		u, err := atou32(v, s.min, s.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", s.key, err)
		}
		if err := s.apply(&cfg, u); err != nil {
			return Config{}, fmt.Errorf("%s: %w", s.key, err)
		}
	}

	if v, ok := os.LookupEnv("CLUB_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("CLUB_PASSWORD_REJECT_VERY_WEAK: invalid boolean")
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength || cfg.Policy.ChangeFloor() > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}

	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func u32ToU8(u uint32) (uint8, error) {
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("out of range [0..%d]", math.MaxUint8)
	}
	return uint8(u), nil
}
