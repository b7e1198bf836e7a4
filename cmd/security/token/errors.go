package token

import "errors"

// Errors returned by HMACKeyFromEnv.
var (
	ErrHMACKeyMissing  = errors.New("token: session HMAC key not set")
	ErrHMACKeyTooShort = errors.New("token: session HMAC key shorter than required")
)
