package app

import (
	"errors"
	"fmt"

	"clubhouse/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy.
//
// Production always requires an HMAC session-token key, a Turnstile secret,
// and a dev admin secret that is not the shipped placeholder.
func ValidateSecurityConfig(cfg Config) error {
	prod := cfg.Production()

	if prod || cfg.RequireTokenHMAC {
		if _, err := token.HMACKeyFromEnv(32); err != nil {
			switch {
			case errors.Is(err, token.ErrHMACKeyMissing):
				return fmt.Errorf("security policy: %s is required", token.HMACEnvKey)
			case errors.Is(err, token.ErrHMACKeyTooShort):
				return fmt.Errorf("security policy: %s is too short (min 32 bytes)", token.HMACEnvKey)
			default:
				return err
			}
		}
		if !token.HMACEnabled() {
			return errors.New("security policy: session token hasher is not in HMAC mode")
		}
	}

	if !prod {
		return nil
	}

	if cfg.TurnstileSecret == "" {
		return errors.New("security policy: CLUB_TURNSTILE_SECRET is required in production")
	}
	if cfg.DevAdminSecret == DefaultDevAdminSecret {
		return errors.New("security policy: CLUB_DEV_ADMIN_SECRET must not be the default placeholder")
	}
	return nil
}
