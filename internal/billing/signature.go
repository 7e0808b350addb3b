package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature checks the provider's X-Signature header: a hex-encoded
// HMAC-SHA256 of the raw request body under the shared webhook secret.
// Comparison is constant time.
func VerifySignature(payload []byte, signatureHex, secret string) bool {
	if signatureHex == "" || secret == "" {
		return false
	}

	provided, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	return hmac.Equal(provided, expected)
}
