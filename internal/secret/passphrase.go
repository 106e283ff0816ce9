package secret

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// scryptKeyLen is the derived key length in bytes.
	scryptKeyLen = 32

	saltFilePerm = 0o600
)

// NewPassphraseEncryptor returns an Encryptor whose AES-256 key is derived
// from an operator passphrase with scrypt. Meant for headless hosts without
// an OS keychain. The per-installation salt is read from saltPath, generated
// on first use. Passphrase and salt are NFKC-normalized before derivation.
func NewPassphraseEncryptor(passphrase, saltPath string) (Encryptor, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("empty passphrase")
	}

	salt, err := ensureSalt(saltPath)
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	defer ZeroKey(key)

	return newAEADEncryptor(key)
}

// deriveKey derives a 32-byte encryption key from passphrase and salt using
// scrypt. Parameters: N=32768, r=8, p=1. Both inputs are normalized to NFKC
// before hashing.
func deriveKey(passphrase, salt string) ([]byte, error) {
	passphrase = norm.NFKC.String(passphrase)
	salt = norm.NFKC.String(salt)

	key, err := scrypt.Key([]byte(passphrase), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	return key, nil
}

// ensureSalt reads the hex salt at path, creating a random one on first use.
func ensureSalt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}

	if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading salt file: %w", err)
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	salt := hex.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(salt), saltFilePerm); err != nil {
		return "", fmt.Errorf("writing salt file: %w", err)
	}

	return salt, nil
}
