package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// CalculateSHA256 computes the SHA-256 hash of a byte slice as a hex string.
// Used to fingerprint capture artifacts in the manifest.
func CalculateSHA256(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
