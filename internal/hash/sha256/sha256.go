// Package sha256 fingerprints archived snapshots for archive events, so a
// consumer can check the content.html it fetches against what was written.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Hasher streams a snapshot through SHA-256.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash consumes r and returns the lowercase hex digest of everything read.
func (Hasher) Hash(r io.Reader) (string, error) {
	digest := sha256.New()
	if _, err := io.Copy(digest, r); err != nil {
		return "", fmt.Errorf("digest snapshot: %w", err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
