// Package sha256 computes content digests for result manifests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const prefix = "sha256:"

// Digester implements crawler.Digester.
type Digester struct{}

// New returns a SHA-256 digester.
func New() *Digester {
	return &Digester{}
}

// Digest returns data's digest as "sha256:<hex>".
func (Digester) Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return prefix + hex.EncodeToString(sum[:])
}

// Verify reports whether digest was produced by Digest for data.
func (d Digester) Verify(data []byte, digest string) bool {
	if !strings.HasPrefix(digest, prefix) {
		return false
	}
	return d.Digest(data) == digest
}
