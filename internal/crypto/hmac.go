package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HMACAuth holds the credentials for an HMAC-signed venue API.
type HMACAuth struct {
	Key    string
	Secret string
}

// SignHex returns hex(HMAC-SHA256(secret, message)), the signature scheme
// shared by the Binance and Bybit REST APIs.
func (h *HMACAuth) SignHex(message string) string {
	return hmacSHA256Hex([]byte(h.Secret), message)
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
