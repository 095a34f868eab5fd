// Package sha256 provides SHA-256 digest helpers for identity keys and
// content dedup.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortLen is the hex width identity keys are truncated to (16 bytes).
const ShortLen = 32

// Hasher computes hex digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns the full hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum returns the full hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Short returns the digest truncated to ShortLen hex characters. The width
// is fixed: identity keys derived from it are stored as upsert keys and must
// never change length across versions.
func Short(data []byte) string {
	return Sum(data)[:ShortLen]
}
