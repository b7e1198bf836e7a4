// Package token derives the server-side lookup key for session tokens.
//
// The raw token lives only in the client cookie. The store keys sessions by
// SHA-256(token), or by HMAC-SHA256(token, key) when CLUB_TOKEN_HMAC_KEY is set,
// always as 64 lowercase hex characters.
//
// When the runtime policy requires HMAC (production), callers must enforce a
// minimum key size via HMACKeyFromEnv and must not fall back to plain SHA-256.
package token
