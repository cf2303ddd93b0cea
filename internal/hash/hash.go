package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Token computes the SHA-256 hex digest of a raw token. Registries persist
// digests only; raw token material never touches disk.
func Token(raw string) string {
	hasher := sha256.New()
	hasher.Write([]byte(raw))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Bytes computes the SHA-256 hex digest of a byte slice.
func Bytes(input []byte) string {
	hasher := sha256.New()
	hasher.Write(input)
	return hex.EncodeToString(hasher.Sum(nil))
}

// Short returns the leading n hex characters of the digest of raw, for log
// lines and audit details where a full digest is noise. n outside the digest
// length returns the whole digest.
func Short(raw string, n int) string {
	digest := Token(raw)
	if n <= 0 || n >= len(digest) {
		return digest
	}
	return digest[:n]
}

// Matches reports whether raw hashes to the stored hex digest.
func Matches(raw, storedDigest string) bool {
	return Token(raw) == storedDigest
}
