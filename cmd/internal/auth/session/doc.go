// Package session implements cookie-bound login sessions.
//
// A session token is 20 random bytes encoded as lowercase base32. The token
// lives only in the client's cookie; the server keys the session row by
// SHA-256(token), or HMAC-SHA256 when CLUB_TOKEN_HMAC_KEY is set, so a
// leaked sessions table cannot be replayed.
//
// Sessions last Config.Lifetime and slide: a validation that falls inside
// the last RenewWindow of the lifetime extends the expiry and reports the
// session as Fresh so the transport re-issues the cookie.
package session
