// Package ciphers wraps the AEAD primitives used to decrypt TLS 1.3
// records. Only AES-GCM is implemented: the two cipher suites in scope
// (TLS_AES_128_GCM_SHA256, TLS_AES_256_GCM_SHA384) are both AES-GCM, and
// ChaCha20-Poly1305 and TLS 1.2's CBC suites are out of scope.
package ciphers

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// AESGCM wraps a crypto/cipher.AEAD configured for AES-GCM with a
// 16-byte authentication tag, as required by TLS 1.3.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM builds an AESGCM cipher from a raw key. key must be 16 bytes
// (TLS_AES_128_GCM_SHA256) or 32 bytes (TLS_AES_256_GCM_SHA384).
func NewAESGCM(key []byte) (*AESGCM, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm wrap: %w", err)
	}

	return &AESGCM{aead: aead}, nil
}

// Open decrypts and authenticates ciphertext (which includes the trailing
// tag) using nonce and additionalData, returning the plaintext.
func (c *AESGCM) Open(nonce, ciphertext, additionalData []byte) ([]byte, error) {
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return plaintext, nil
}

// NonceSize returns the nonce length this cipher expects, always 12 for
// TLS 1.3 AES-GCM.
func (c *AESGCM) NonceSize() int {
	return c.aead.NonceSize()
}

// Overhead returns the authentication tag length added to plaintext to
// produce ciphertext.
func (c *AESGCM) Overhead() int {
	return c.aead.Overhead()
}
