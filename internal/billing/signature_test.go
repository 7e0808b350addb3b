package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"meta":{"event_name":"subscription_created"}}`)
	secret := "whsec-test"

	tests := []struct {
		name      string
		signature string
		secret    string
		want      bool
	}{
		{"valid signature", sign(payload, secret), secret, true},
		{"wrong secret", sign(payload, "other"), secret, false},
		{"tampered payload", sign([]byte("tampered"), secret), secret, false},
		{"empty signature", "", secret, false},
		{"non-hex signature", "not-hex!", secret, false},
		{"no secret configured", sign(payload, secret), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(payload, tt.signature, tt.secret))
		})
	}
}
