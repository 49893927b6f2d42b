// internal/secrets/crypto.go
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

var (
	ErrInvalidKey    = errors.New("encryption key must be 32 bytes")
	ErrInvalidCipher = errors.New("invalid ciphertext")
	ErrMissingKey    = errors.New("TOKEN_ENCRYPTION_KEY not set")
)

// Box seals and opens owner access tokens with AES-256-GCM.
type Box struct {
	gcm cipher.AEAD
}

// NewBox accepts a 32-byte key, raw or base64 encoded.
func NewBox(key string) (*Box, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{gcm: gcm}, nil
}

func parseKey(key string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	return []byte(key), nil
}

// Encrypt returns base64(nonce || ciphertext).
func (b *Box) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := b.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCipher
	}

	nonceSize := b.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCipher
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := b.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidCipher
	}
	return string(plaintext), nil
}
