package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToken_KnownVector(t *testing.T) {
	// sha256("hello")
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		Token("hello"))
}

func TestToken_Deterministic(t *testing.T) {
	hash1 := Token("some.jwt.token")
	hash2 := Token("some.jwt.token")
	hash3 := Token("other.jwt.token")

	assert.Equal(t, hash1, hash2, "same input should produce same digest")
	assert.NotEqual(t, hash1, hash3, "different input should produce different digest")
	assert.Len(t, hash1, 64, "SHA-256 hex string should be 64 characters")
}

func TestBytes_MatchesToken(t *testing.T) {
	assert.Equal(t, Token("payload"), Bytes([]byte("payload")))
}

func TestShort_Truncates(t *testing.T) {
	full := Token("hello")

	assert.Equal(t, full[:12], Short("hello", 12))
	assert.Equal(t, full, Short("hello", 0), "non-positive n returns the full digest")
	assert.Equal(t, full, Short("hello", 200), "oversize n returns the full digest")
}

func TestMatches(t *testing.T) {
	digest := Token("raw-token")

	assert.True(t, Matches("raw-token", digest))
	assert.False(t, Matches("raw-token-2", digest))
	assert.False(t, Matches("raw-token", ""), "empty stored digest never matches")
}
