// Package security provides the signature primitives that form the trust
// boundary for payment confirmations.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureVerifier checks hex-encoded HMAC-SHA256 signatures.
type SignatureVerifier struct{}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func (SignatureVerifier) Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the hex HMAC-SHA256 of payload under
// secret. The comparison runs in constant time. Malformed input yields false.
func (v SignatureVerifier) Verify(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// CheckoutPayload builds the string a checkout signature covers:
// "{orderID}|{paymentID}".
func CheckoutPayload(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}
