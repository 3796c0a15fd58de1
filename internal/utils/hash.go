package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes returns the hex encoded SHA-256 of data. Image asset ids are derived this way.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
