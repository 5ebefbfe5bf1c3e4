package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// SealToken encrypts a card processor token for storage. The result is the
// hex-encoded nonce followed by the ciphertext.
func SealToken(token string, key []byte) (string, error) {
	if len(token) == 0 {
		return "", fmt.Errorf("token is empty")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(token)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(aead.Seal(nonce, nonce, []byte(token), nil)), nil
}

// OpenToken reverses SealToken.
func OpenToken(sealed string, key []byte) (string, error) {
	if len(sealed) == 0 {
		return "", fmt.Errorf("sealed token is empty")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	data, err := hex.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode hex: %w", err)
	}
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("sealed token too short: %d bytes", len(data))
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open token: %w", err)
	}
	return string(plaintext), nil
}
