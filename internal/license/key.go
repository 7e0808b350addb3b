package license

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// Key format: HL-XXXXXXXX-XXXXXXXX-XXXXXXXX where each group is eight
// uppercase hex characters. 96 bits of randomness makes collisions
// negligible, but the store still enforces uniqueness and callers retry
// generation on ErrDuplicateKey.
const keyPrefix = "HL"

var keyPattern = regexp.MustCompile(`^HL-[0-9A-F]{8}-[0-9A-F]{8}-[0-9A-F]{8}$`)

// GenerateKey creates a new random license key.
func GenerateKey() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate license key: %w", err)
	}
	return fmt.Sprintf("%s-%X-%X-%X", keyPrefix, buf[0:4], buf[4:8], buf[8:12]), nil
}

// ValidKeyFormat reports whether key matches the HL key format. Lowercase
// hex is accepted and treated as equivalent.
func ValidKeyFormat(key string) bool {
	return keyPattern.MatchString(strings.ToUpper(key))
}

// NormalizeKey uppercases a key so lookups are case-insensitive.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}
