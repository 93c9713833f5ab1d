// ABOUTME: Argon2id password hashing with OWASP-recommended parameters for staff accounts.
// ABOUTME: Callers must acquire the argon2 semaphore (on api.Server) before calling.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Memory      = 19456 // KiB
	argon2Iterations  = 2
	argon2Parallelism = 1
	argon2SaltLen     = 16
	argon2KeyLen      = 32

	// MinPasswordLen and MaxPasswordLen bound accepted passwords, in runes.
	MinPasswordLen = 12
	MaxPasswordLen = 128
)

// dummyHash is verified against when the account does not exist so that
// unknown and known emails take the same time to reject.
const dummyHash = "$argon2id$v=19$m=19456,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA" //nolint:gosec // G101: not a credential

var (
	ErrInvalidHash    = errors.New("auth: invalid password hash")
	ErrPasswordLength = fmt.Errorf("auth: password must be %d-%d characters", MinPasswordLen, MaxPasswordLen)
)

// ValidatePassword enforces the length policy on a new password.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLen || n > MaxPasswordLen {
		return ErrPasswordLength
	}
	return nil
}

// HashPassword hashes password using argon2id. Returns a PHC-format string.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argon2Iterations, argon2Memory, argon2Parallelism, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory, argon2Iterations, argon2Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword checks password against a PHC-format argon2id hash.
// A wrong password is (false, nil); only a malformed hash returns an error.
func VerifyPassword(password, hash string) (bool, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}
	var m, t, p uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil || p == 0 || p > 255 {
		return false, fmt.Errorf("%w: params", ErrInvalidHash)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false, fmt.Errorf("%w: key", ErrInvalidHash)
	}

	actual := argon2.IDKey([]byte(password), salt, t, m, uint8(p), uint32(len(expected))) //nolint:gosec // G115: p bounded above
	return subtle.ConstantTimeCompare(expected, actual) == 1, nil
}

// VerifyDummy burns the same work as VerifyPassword for an account that does
// not exist. It always reports false.
func VerifyDummy(password string) {
	_, _ = VerifyPassword(password, dummyHash)
}
