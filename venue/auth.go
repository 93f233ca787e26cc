package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// signRequest builds the L2 authentication signature: an HMAC-SHA256 over
// timestamp, method, request path, and body, keyed with the base64-decoded
// API secret.
func signRequest(secret, timestamp, method, path string, body []byte) (string, error) {
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp + method + path))
	mac.Write(body)
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}
