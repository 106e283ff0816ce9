package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"strings"

	errs "github.com/Anneragh/ui-development-kit-sub001/internal/errors"
)

// DecryptLegacy decrypts the pre-envelope symmetric format: "iv:ciphertext"
// with both halves hex-encoded, AES-256-CBC, PKCS7 padding.
//
// Padding is stripped only when it validates strictly (count in 1..16 and
// every padding byte equal to the count); otherwise the raw decrypted bytes
// are returned unchanged. Tokens produced by old installations relied on
// that behavior, so it is preserved here.
//
// Deprecated: only tokens stored before the hybrid envelope existed use this
// path. New exchanges always deliver hybrid envelopes.
func DecryptLegacy(token, hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", errs.ErrDecryptionFailed)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d: expected 32 bytes: %w", len(key), errs.ErrDecryptionFailed)
	}

	ivHex, ctHex, ok := strings.Cut(token, ":")
	if !ok {
		return nil, fmt.Errorf("token is not iv:ciphertext: %w", errs.ErrDecryptionFailed)
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("decoding iv: %w", errs.ErrDecryptionFailed)
	}

	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", errs.ErrDecryptionFailed)
	}

	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid iv length %d: %w", len(iv), errs.ErrDecryptionFailed)
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a positive multiple of the block size: %w",
			len(ciphertext), errs.ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", errs.ErrDecryptionFailed)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return stripPKCS7(plaintext), nil
}

// stripPKCS7 removes PKCS7 padding when it validates; invalid padding leaves
// the input untouched.
func stripPKCS7(data []byte) []byte {
	if len(data) == 0 {
		return data
	}

	n := int(data[len(data)-1])
	if n < 1 || n > aes.BlockSize || n > len(data) {
		return data
	}

	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return data
		}
	}

	return data[:len(data)-n]
}
