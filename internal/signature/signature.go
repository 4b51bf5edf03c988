package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret.
// The result is sent to endpoints in the X-Webhook-Signature header.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is a valid hex HMAC-SHA256 of payload under
// secret. The comparison is constant time; malformed or wrong-length
// signatures fail without leaking where the mismatch occurred.
func Verify(payload []byte, secret, sig string) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	return hmac.Equal(provided, expected)
}

// ParseHeader splits a provider signature header of the form
// "t=1712000000,v1=abcdef,..." into its key/value pairs. Malformed
// elements are skipped; duplicate keys keep the first value.
func ParseHeader(header string) map[string]string {
	parts := map[string]string{}
	for _, elem := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(elem), "=")
		if !ok || k == "" {
			continue
		}
		if _, dup := parts[k]; !dup {
			parts[k] = v
		}
	}
	return parts
}
