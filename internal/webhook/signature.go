package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// SignatureHeader carries the hex HMAC-SHA256 signature of the raw body.
const SignatureHeader = "X-Webhook-Signature"

// ErrInvalidSignature is returned when a payload cannot be authenticated.
var ErrInvalidSignature = errors.New("invalid signature")

// Verifier authenticates webhook payloads against the shared secret. It
// runs before any parsing; an unverified payload is never deserialized.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the shared webhook secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify computes HMAC-SHA256 over the exact raw bytes and compares it to
// the claimed signature in constant time. Missing secret, missing
// signature, undecodable hex, and mismatch all fail closed.
func (v *Verifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 || signature == "" {
		return ErrInvalidSignature
	}

	claimed, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)

	if !hmac.Equal(mac.Sum(nil), claimed) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 signature for a body. Used by tests and
// by operators generating requests by hand.
func (v *Verifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
