// ABOUTME: Opaque session identifiers carried in the session token's sid claim.
// ABOUTME: Only the sha256 digest is used as the key-value store key.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SessionIDPrefix marks Ask Ozzy session identifiers.
const SessionIDPrefix = "ozs_"

// NewSessionID returns a fresh random session identifier.
func NewSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return SessionIDPrefix + hex.EncodeToString(b), nil
}

// ValidSessionID reports whether sid has the shape NewSessionID produces.
func ValidSessionID(sid string) bool {
	rest, ok := strings.CutPrefix(sid, SessionIDPrefix)
	if !ok || len(rest) != 64 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// SessionKey returns the sha256 hex digest of sid. A dump of the session
// store therefore never contains a usable identifier.
func SessionKey(sid string) string {
	sum := sha256.Sum256([]byte(sid))
	return hex.EncodeToString(sum[:])
}
