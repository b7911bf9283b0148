// internal/crypto/crypto.go
package crypto

import (
	"crypto/rand"
	"encoding/base64"
)

const (
	idLength  = 16 // 128 bits, enumeration-proof
	keyLength = 32 // AES-256
)

// GenerateID returns a random URL-safe secret identifier. The id is the
// public half of the capability; its entropy is the only thing standing
// between an attacker and a live secret, so generation failure is fatal.
func GenerateID() string {
	bytes := make([]byte, idLength)
	if _, err := rand.Read(bytes); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// GenerateFileKey returns a fresh 256-bit key for server-side file
// encryption. Keys are never derived from identifiers.
func GenerateFileKey() []byte {
	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return key
}
