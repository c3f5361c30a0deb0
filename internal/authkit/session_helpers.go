package authkit

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

const stateTokenByteLength = 32

// NewSessionID returns a fresh opaque session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

func generateStateToken() (string, error) {
	randomBytes := make([]byte, stateTokenByteLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("drive.state.random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// statesMatch compares a stored and returned state. An absent or empty stored state never matches.
func statesMatch(stored string, storedPresent bool, returned string) bool {
	if !storedPresent || stored == "" || returned == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(returned)) == 1
}
