// Package password hashes and verifies member credentials.
//
// New digests are always Argon2id in PHC form. Digests written by the earlier
// fast-hash scheme (unsalted SHA-256, lowercase hex) still verify through Check,
// which reports them as needing a rehash so callers can upgrade them in place.
//
// Digests are treated as untrusted input: Verify refuses cost parameters far
// above the configured ones.
package password
