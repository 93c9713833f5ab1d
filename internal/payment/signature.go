// ABOUTME: Inbound payment-provider webhook verification: HMAC-SHA512 over the raw body.
// ABOUTME: The provider sends the hex digest in the x-paystack-signature header.
package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the provider's hex HMAC-SHA512 of the request body.
const SignatureHeader = "X-Paystack-Signature"

var (
	ErrMissingSignature = errors.New("payment: missing webhook signature")
	ErrBadSignature     = errors.New("payment: webhook signature mismatch")
	ErrNoSecret         = errors.New("payment: no signing secret configured")
)

// Sign returns the hex HMAC-SHA512 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC-SHA512 of body. The
// comparison is constant time; case in the hex header is ignored.
func VerifySignature(secret, body []byte, header string) error {
	if len(secret) == 0 {
		return ErrNoSecret
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	got, err := hex.DecodeString(strings.ToLower(header))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
