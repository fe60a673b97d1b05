package guard

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashKey derives a fixed-length store key component from sensitive input
// (emails, tokens) so raw values never appear as object keys.
func hashKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
