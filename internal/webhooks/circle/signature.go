package circle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// ComputeSignature returns the base64 HMAC-SHA256 of "timestamp.payload"
// keyed with the webhook secret.
func ComputeSignature(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a delivery signature in constant time.
func VerifySignature(secret, signature, timestamp string, payload []byte) bool {
	if secret == "" || signature == "" || timestamp == "" {
		return false
	}
	expected := ComputeSignature(secret, timestamp, payload)
	return hmac.Equal([]byte(signature), []byte(expected))
}
