package password

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/pbkdf2"
)

func TestHashAndVerifyRoundTrip(t *testing.T) {
	h := NewHasher(10000, true)

	hash, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "pbkdf2$10000$"))
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.True(t, h.Verify("correct horse battery staple", hash))
	assert.False(t, h.Verify("wrong password", hash))
}

func TestHashIsSaltedPerCall(t *testing.T) {
	h := NewHasher(10000, true)

	first, err := h.Hash("same-password")
	require.NoError(t, err)
	second, err := h.Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, h.Verify("same-password", first))
	assert.True(t, h.Verify("same-password", second))
}

func TestHashRejectsBlankPassword(t *testing.T) {
	h := NewHasher(10000, true)

	_, err := h.Hash("")
	assert.Error(t, err)

	_, err = h.Hash("   ")
	assert.Error(t, err)
}

func TestVerifyNeverPanicsOnMalformedInput(t *testing.T) {
	h := NewHasher(10000, true)

	cases := []string{
		"",
		"not-a-hash",
		"pbkdf2$abc$salt$digest",
		"pbkdf2$10000$not-base64!!$also-not-base64!!",
		"pbkdf2$0$c2FsdA==$ZGlnZXN0",
		":::",
	}
	for _, c := range cases {
		assert.False(t, h.Verify("anything", c), "input %q should not verify", c)
	}
}

func TestVerifyAcceptsLegacyFormat(t *testing.T) {
	h := NewHasher(10000, true)

	// legacy <iterations>:<saltBase64>:<digestBase64> hash for password
	// "legacy-pass" with a fixed salt, using PBKDF2 with HMAC-SHA1 and
	// iterations=65536 — computed here rather than kept as a hardcoded fixture.
	salt := []byte("fixed-legacy-salt")
	digest := pbkdf2.Key([]byte("legacy-pass"), salt, 65536, 32, sha1.New)
	legacy := fmt.Sprintf("%d:%s:%s", 65536,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(digest))
	assert.True(t, h.Verify("legacy-pass", legacy))
	assert.False(t, h.Verify("wrong-pass", legacy))
}

func TestVerifyRejectsLegacyWhenUnsupported(t *testing.T) {
	h := NewHasher(10000, false)
	// a syntactically valid legacy triple; with legacy support off it is
	// rejected by its format alone
	legacy := "1000:c2FsdHlzYWx0eHh4eA==:ZGlnZXN0ZGlnZXN0ZGlnZXN0ZGlnZXN0"
	assert.False(t, h.Verify("whatever", legacy))
}
