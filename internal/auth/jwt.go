// ABOUTME: Session token issuance and parsing. Tokens carry the user id and an opaque session id.
// ABOUTME: Always enforces HS256 algorithm and expiration. Never call jwt.Parse directly.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the iss claim on every session token.
const Issuer = "askozzy"

// ErrMalformedClaims is returned when a token verifies but its claims are unusable.
var ErrMalformedClaims = errors.New("auth: malformed session claims")

// SessionClaims are embedded in the session cookie. The department scope is
// deliberately absent: it is read from the server-side session record so a
// revoked or re-scoped session takes effect immediately.
type SessionClaims struct {
	jwt.RegisteredClaims
	// UserID shadows RegisteredClaims.Subject so "sub" decodes as a UUID.
	// encoding/json picks the outermost field when embedded tags collide.
	UserID    uuid.UUID `json:"sub"`
	SessionID string    `json:"sid"`
}

// IssueSessionToken creates a signed HS256 session token.
func IssueSessionToken(secret []byte, userID uuid.UUID, sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:    userID,
		SessionID: sessionID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ParseSessionToken validates and parses an HS256 session token.
// Expired, wrongly signed, wrong-issuer and non-HS256 tokens are rejected.
func ParseSessionToken(tokenStr string, secret []byte) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(Issuer),
	)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if claims.UserID == uuid.Nil || !ValidSessionID(claims.SessionID) {
		return nil, ErrMalformedClaims
	}
	return claims, nil
}
