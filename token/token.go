package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// MinTokenBytes is the smallest accepted entropy for a refresh token.
// Below 32 bytes the collision/guessing margin is no longer negligible.
const MinTokenBytes = 32

// GenerateSecureToken returns a hex-encoded random token of byteLength
// bytes read from crypto/rand.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength < MinTokenBytes {
		return "", errors.New("token length must be >= 32 bytes")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}

// NewSessionID returns an opaque session identifier. The identifier is
// stable across refresh-token rotations for the life of the session.
func NewSessionID() string {
	return uuid.NewString()
}
