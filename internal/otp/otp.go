// Package otp generates and checks one-time verification codes.
// Codes are short-lived numeric secrets; only their salted hashes are
// ever persisted.
package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	// MinCodeLength and MaxCodeLength bound configurable code sizes.
	MinCodeLength = 4
	MaxCodeLength = 10

	saltBytes = 16
)

// GenerateCode generates a cryptographically random numeric code of the
// given length. Uses crypto/rand with rejection sampling (via big.Int) to
// avoid modulo bias. The code is zero-padded (e.g., "000123") so every
// value in the range is equally likely and length is constant.
func GenerateCode(length int) (string, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return "", fmt.Errorf("code length %d out of range [%d, %d]", length, MinCodeLength, MaxCodeLength)
	}

	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

// GenerateSalt returns a random per-challenge salt as a hex string
// (16 bytes of entropy, 32 hex characters).
func GenerateSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashCode returns the SHA-256 hex digest of "salt:code". The digest is
// deterministic for a given pair, so verification recomputes it from the
// candidate code and the stored salt.
func HashCode(code, salt string) string {
	h := sha256.Sum256([]byte(salt + ":" + code))
	return hex.EncodeToString(h[:])
}

// VerifyCode recomputes the hash for a candidate code and compares it to
// the stored digest in constant time to prevent timing side-channels.
func VerifyCode(candidate, salt, storedHash string) bool {
	candidateHash := HashCode(candidate, salt)
	return subtle.ConstantTimeCompare([]byte(candidateHash), []byte(storedHash)) == 1
}

// IsNumeric reports whether s consists solely of ASCII digits. Ports use
// it to reject garbage before the engine spends a verification attempt.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) == -1
}
