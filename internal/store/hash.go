package store

import (
	"crypto/sha256"
	"fmt"
)

// ContentHash is the cache key for file content: hex-encoded SHA-256.
func ContentHash(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}
