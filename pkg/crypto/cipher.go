// Package crypto provides the symmetric encryption, hashing, signing and
// key-derivation primitives shared by the securecore components. It has
// no dependency on the rest of the SDK.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	// ErrInvalidKeySize is returned when the key is not KeySize bytes.
	ErrInvalidKeySize = errors.New("key must be 32 bytes")

	// ErrDecryptionFailed is returned for corrupted, truncated or
	// mis-keyed ciphertext. Callers must treat it as an integrity
	// failure; GCM never returns unauthenticated plaintext.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// Encrypt seals plaintext with AES-256-GCM. The random nonce is prefixed
// to the returned blob, so each call produces a different ciphertext for
// the same input.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce-prefixed AES-256-GCM blob produced by Encrypt.
// Any authentication failure collapses into ErrDecryptionFailed.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	ns := gcm.NonceSize()
	if len(blob) < ns {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := gcm.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// MustRandom returns n cryptographically random bytes or panics. Only
// used for install-time secret generation where failure of the system
// RNG is unrecoverable anyway.
func MustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return b
}
