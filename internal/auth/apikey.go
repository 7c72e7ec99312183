package auth

import (
	"crypto/rand"
	"encoding/hex"
)

// APIKeyLength is the length of a generated API key in hex characters.
const APIKeyLength = 64

// GenerateAPIKey returns a cryptographically random 64-character hex
// API key. crypto/rand.Read cannot fail as of go 1.24.
func GenerateAPIKey() string {
	buf := make([]byte, APIKeyLength/2)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}
