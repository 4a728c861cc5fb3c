// Package password implements the PBKDF2-family credential hasher (C1).
//
// Canonical hashes look like pbkdf2$<iterations>$<saltBase64>$<digestBase64>
// and use HMAC-SHA-256. A legacy format, <iterations>:<saltBase64>:<digestBase64>
// with HMAC-SHA-1, is accepted by Verify for backward compatibility but is
// never produced by Hash.
package password

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	canonicalPrefix   = "pbkdf2"
	defaultSaltBytes  = 16
	defaultDigestBits = 256
	defaultIterations = 120000
)

// Hasher produces and verifies PBKDF2 password hashes with a fixed
// iteration count. The zero value is not usable; use NewHasher.
type Hasher struct {
	iterations    int
	legacySupport bool
}

// NewHasher builds a Hasher. iterations <= 0 falls back to the default
// (120000). legacySupport controls whether Verify still recognizes the
// old iter:salt:digest / HMAC-SHA1 format.
func NewHasher(iterations int, legacySupport bool) *Hasher {
	if iterations <= 0 {
		iterations = defaultIterations
	}
	return &Hasher{iterations: iterations, legacySupport: legacySupport}
}

// Hash returns a self-describing hash of plain. It fails if plain is blank.
func (h *Hasher) Hash(plain string) (string, error) {
	if strings.TrimSpace(plain) == "" {
		return "", errors.New("password: cannot hash a blank password")
	}

	salt := make([]byte, defaultSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: reading random salt: %w", err)
	}

	digest := pbkdf2.Key([]byte(plain), salt, h.iterations, defaultDigestBits/8, sha256.New)

	return fmt.Sprintf("%s$%d$%s$%s",
		canonicalPrefix,
		h.iterations,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(digest),
	), nil
}

// Verify reports whether plain matches stored. It never panics: any
// malformed stored value is treated as "no match".
func (h *Hasher) Verify(plain, stored string) bool {
	if plain == "" || strings.TrimSpace(stored) == "" {
		return false
	}

	if strings.HasPrefix(stored, canonicalPrefix+"$") {
		return verifyCanonical(plain, stored)
	}
	if h.legacySupport && strings.Count(stored, ":") == 2 {
		return verifyLegacy(plain, stored)
	}
	return false
}

// verifyCanonical checks the pbkdf2$<iterations>$<salt>$<digest> format.
func verifyCanonical(plain, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 || parts[0] != canonicalPrefix {
		return false
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(expected) == 0 {
		return false
	}

	actual := pbkdf2.Key([]byte(plain), salt, iterations, len(expected), sha256.New)
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

// verifyLegacy checks the pre-existing <iterations>:<saltBase64>:<digestBase64>
// format, hashed with PBKDF2WithHmacSHA1 (the original first-generation hasher).
func verifyLegacy(plain, stored string) bool {
	parts := strings.Split(stored, ":")
	if len(parts) != 3 {
		return false
	}

	iterations, err := strconv.Atoi(parts[0])
	if err != nil || iterations <= 0 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(expected) == 0 {
		return false
	}

	actual := pbkdf2.Key([]byte(plain), salt, iterations, len(expected), sha1.New)
	return subtle.ConstantTimeCompare(actual, expected) == 1
}
