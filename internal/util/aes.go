package util

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const (
	AESKeySize   = 32
	GCMNonceSize = 12
	GCMTagSize   = 16
)

// ErrAuthentication is returned when a GCM tag does not verify.
var ErrAuthentication = errors.New("ciphertext authentication failed")

func newGCM(rawKey []byte) (cipher.AEAD, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}
	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, GCMTagSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// SealGCM encrypts plaintext with AES-256-GCM under a fresh 96-bit nonce.
// The returned ciphertext carries the 128-bit tag as its suffix.
func SealGCM(rawKey, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = RandomBytes(GCMNonceSize)
	if err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, gcm.Seal(nil, nonce, plaintext, aad), nil
}

// OpenGCM reverses SealGCM. Any tag mismatch, including one caused by a
// different AAD, yields ErrAuthentication.
func OpenGCM(rawKey, nonce, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(nonce), gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func NewAESKey() ([]byte, error) {
	rawKey, err := RandomBytes(AESKeySize)
	if err != nil {
		return nil, fmt.Errorf("generating AES key: %w", err)
	}
	return rawKey, nil
}
