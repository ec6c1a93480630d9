package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// sealedPrefix tags the ciphertext format so a future key scheme can be
// told apart from this one.
const sealedPrefix = "v1:"

// ErrOpen is returned when a sealed value fails authentication.
var ErrOpen = errors.New("crypto: message authentication failed")

// FieldCipher encrypts short string fields with AES-256-GCM. The output is
// "v1:" followed by base64(nonce || ciphertext).
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher builds a cipher from a 32-byte key.
func NewFieldCipher(key []byte) (*FieldCipher, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("crypto: expected %d-byte key, got %d bytes", KeyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return &FieldCipher{aead: gcm}, nil
}

// Seal encrypts plaintext, authenticating additionalData alongside it.
func (c *FieldCipher) Seal(plaintext string, additionalData []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}
	out := c.aead.Seal(nonce, nonce, []byte(plaintext), additionalData)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Any tampering, a different key, or different
// additionalData yields an error wrapping ErrOpen.
func (c *FieldCipher) Open(sealed string, additionalData []byte) (string, error) {
	body, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", fmt.Errorf("%w: unknown format", ErrOpen)
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOpen, err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrOpen)
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], additionalData)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return string(plain), nil
}
