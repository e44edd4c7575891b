package utils

import (
	"crypto/md5"
	"crypto/sha256"
	"fmt"
)

// HashString is a cheap fingerprint for cache keys. Not for secrets.
func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// HashAPIKey is the stored form of an API key; raw keys are never persisted.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash)
}
