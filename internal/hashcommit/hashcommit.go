// Package hashcommit provides the content-addressing primitive used by
// commitments: lowercase hex SHA-256 over raw bytes.
//
// The digest is byte-order and locale independent, so a client and a
// verifier built on different platforms always agree.
package hashcommit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DigestSize is the length in bytes of a raw digest.
const DigestSize = sha256.Size

// HexSize is the length of a hex-encoded digest.
const HexSize = DigestSize * 2

// Digest returns the lowercase hex SHA-256 of b. Total over any input,
// including nil and empty slices.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DigestString hashes the UTF-8 bytes of s.
func DigestString(s string) string {
	return Digest([]byte(s))
}

// Concat hashes the in-order concatenation of parts with no separator.
// Order matters: Concat("a", "b") != Concat("b", "a").
func Concat(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsHexDigest reports whether s looks like a Digest result:
// exactly 64 lowercase hex characters.
func IsHexDigest(s string) bool {
	if len(s) != HexSize {
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

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}
