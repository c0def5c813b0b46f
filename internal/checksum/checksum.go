// Package checksum computes content hashes used as cache keys.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Key derives a cache key from the uploaded archive bytes and the analysis
// text. Same archive + same question = same key.
func Key(archive []byte, analysis string) string {
	h := sha256.New()
	h.Write(archive)
	h.Write([]byte(analysis))
	return hex.EncodeToString(h.Sum(nil))
}
