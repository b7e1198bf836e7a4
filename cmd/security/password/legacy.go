package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashLegacySHA256 returns the unsalted SHA-256 lowercase hex digest that
// accounts created before the Argon2id switch still carry. Never use it for new digests.
func HashLegacySHA256(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// IsLegacyDigest reports whether s has the shape of a legacy SHA-256 hex digest.
func IsLegacyDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func verifyLegacy(digest, password string) bool {
	got := HashLegacySHA256(password)
	return subtle.ConstantTimeCompare([]byte(got), []byte(digest)) == 1
}
