package gatewayclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signature computes the hex HMAC-SHA256 of the raw callback body.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a callback signature in constant time. The gateway
// also supports a static callback-token scheme; a provided value equal to
// the shared secret itself is accepted for that mode.
func VerifySignature(secret string, body []byte, provided string) bool {
	if provided == "" {
		return false
	}
	expected := Signature(secret, body)
	if hmac.Equal([]byte(expected), []byte(provided)) {
		return true
	}
	return hmac.Equal([]byte(secret), []byte(provided))
}
