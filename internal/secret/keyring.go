package secret

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	errs "github.com/Anneragh/ui-development-kit-sub001/internal/errors"
)

const (
	// keyringService is the service name the master key is filed under in
	// the OS keychain.
	keyringService = "idgov-credential-manager"

	keyringUser = "master-key"
)

// NewKeyringEncryptor returns an Encryptor whose AES-256 master key lives in
// the OS keychain (macOS Keychain, GNOME Keyring, Windows Credential
// Manager). The key is generated on first use; the application never derives
// or persists it elsewhere. When no keychain is reachable the constructor
// fails with errors.ErrEncryptionUnavailable, which is fatal and not retried.
func NewKeyringEncryptor() (Encryptor, error) {
	stored, err := keyring.Get(keyringService, keyringUser)
	switch {
	case err == nil:
		key, decErr := hex.DecodeString(stored)
		if decErr != nil || len(key) != 32 {
			return nil, fmt.Errorf("keychain holds a corrupt master key: %w", errs.ErrEncryptionUnavailable)
		}

		defer ZeroKey(key)

		return newAEADEncryptor(key)

	case errors.Is(err, keyring.ErrNotFound):
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating master key: %w", err)
		}

		defer ZeroKey(key)

		if err := keyring.Set(keyringService, keyringUser, hex.EncodeToString(key)); err != nil {
			return nil, fmt.Errorf("storing master key in keychain: %v: %w", err, errs.ErrEncryptionUnavailable)
		}

		return newAEADEncryptor(key)

	default:
		return nil, fmt.Errorf("reading keychain: %v: %w", err, errs.ErrEncryptionUnavailable)
	}
}
