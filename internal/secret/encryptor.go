// Package secret stores per-environment credential material encrypted at
// rest. Values pass through an Encryptor capability before touching the
// durable bbolt database, so callers never observe ciphertext and the
// database never holds plaintext.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// Encryptor seals and opens opaque secret blobs. Implementations hold the
// key material themselves (OS keychain, derived passphrase); the rest of the
// application never sees it.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// aeadEncryptor seals blobs with AES-256-GCM.
// Format: [12-byte IV][ciphertext+GCM tag].
type aeadEncryptor struct {
	gcm cipher.AEAD
}

func newAEADEncryptor(key []byte) (*aeadEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d: expected 32 bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &aeadEncryptor{gcm: gcm}, nil
}

// ZeroKey overwrites key material in the given slice. Call this after
// handing the key to an encryptor to limit how long raw bytes linger.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

func (e *aeadEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	iv := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}

	sealed := e.gcm.Seal(nil, iv, plaintext, nil)
	result := make([]byte, len(iv)+len(sealed))
	copy(result, iv)
	copy(result[len(iv):], sealed)

	return result, nil
}

func (e *aeadEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := e.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(ciphertext))
	}

	plaintext, err := e.gcm.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting secret: %w", err)
	}

	return plaintext, nil
}
