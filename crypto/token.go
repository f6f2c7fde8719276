package crypto

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateToken returns a random 16-hex-character token, used by the
// Lock Manager as the value stored against a lock key so that release
// can be scoped to the holder that acquired it (spec §4.1).
func GenerateToken() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
