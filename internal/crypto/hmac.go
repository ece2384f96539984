package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignData returns the base64url HMAC-SHA256 of data under key.
func SignData(data string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignedData reports whether signature is SignData(data, key), in constant time.
func ValidateSignedData(data, signature string, key []byte) bool {
	expected := SignData(data, key)
	return hmac.Equal([]byte(expected), []byte(signature))
}
