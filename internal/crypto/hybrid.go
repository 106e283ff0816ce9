package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	errs "github.com/Anneragh/ui-development-kit-sub001/internal/errors"
)

const (
	// envelopeVersion is the only hybrid envelope version this codec
	// implements. Any other version is rejected outright.
	envelopeVersion = 1

	symmetricAlgorithm  = "AES-256-GCM"
	asymmetricAlgorithm = "RSA-OAEP-SHA256"

	// gcmIVLen is the AES-GCM nonce length in bytes.
	gcmIVLen = 12

	// sessionKeyLen is the wrapped AES session key length (256 bits).
	sessionKeyLen = 32
)

// envelopeAlgorithm names the cipher pair used by a hybrid envelope.
type envelopeAlgorithm struct {
	Symmetric  string `json:"symmetric"`
	Asymmetric string `json:"asymmetric"`
}

// envelopeData carries the binary envelope fields, base64 (standard) encoded.
type envelopeData struct {
	Ciphertext   string `json:"ciphertext"`
	EncryptedKey string `json:"encryptedKey"`
	IV           string `json:"iv"`
	AuthTag      string `json:"authTag"`
}

// Envelope is the versioned hybrid-encryption wire format delivered by the
// relay: an AES-256-GCM payload whose session key is wrapped with the
// recipient's RSA public key via OAEP(SHA-256).
type Envelope struct {
	Version   int               `json:"version"`
	Algorithm envelopeAlgorithm `json:"algorithm"`
	Data      envelopeData      `json:"data"`
}

// DecryptHybrid opens a hybrid envelope with the PEM-encoded private key and
// returns the decrypted JSON payload. It fails closed: an authentication tag
// mismatch, an unsupported version, or an unexpected algorithm pair all
// return errors.ErrDecryptionFailed without any plaintext.
func DecryptHybrid(payload []byte, privatePEM []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("parsing envelope: %v: %w", err, errs.ErrDecryptionFailed)
	}

	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d: %w", env.Version, errs.ErrDecryptionFailed)
	}

	if env.Algorithm.Symmetric != symmetricAlgorithm || env.Algorithm.Asymmetric != asymmetricAlgorithm {
		return nil, fmt.Errorf("unsupported algorithm pair %s/%s: %w",
			env.Algorithm.Symmetric, env.Algorithm.Asymmetric, errs.ErrDecryptionFailed)
	}

	ciphertext, err := decodeEnvelopeField("ciphertext", env.Data.Ciphertext)
	if err != nil {
		return nil, err
	}

	encryptedKey, err := decodeEnvelopeField("encryptedKey", env.Data.EncryptedKey)
	if err != nil {
		return nil, err
	}

	iv, err := decodeEnvelopeField("iv", env.Data.IV)
	if err != nil {
		return nil, err
	}

	authTag, err := decodeEnvelopeField("authTag", env.Data.AuthTag)
	if err != nil {
		return nil, err
	}

	priv, err := parsePrivateKey(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ErrDecryptionFailed)
	}

	sessionKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, encryptedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrapping session key: %w", errs.ErrDecryptionFailed)
	}

	gcm, err := newGCM(sessionKey, len(iv))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, errs.ErrDecryptionFailed)
	}

	// Go's GCM expects the tag appended to the ciphertext.
	sealed := make([]byte, 0, len(ciphertext)+len(authTag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, authTag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("authenticating payload: %w", errs.ErrDecryptionFailed)
	}

	if !json.Valid(plaintext) {
		return nil, fmt.Errorf("decrypted payload is not JSON: %w", errs.ErrDecryptionFailed)
	}

	return plaintext, nil
}

// EncryptHybrid seals a JSON payload into a hybrid envelope for the holder of
// the given PEM-encoded public key. The flows only ever decrypt; this is the
// inverse direction, used to exercise the round-trip.
func EncryptHybrid(plaintext []byte, publicPEM []byte) ([]byte, error) {
	if !json.Valid(plaintext) {
		return nil, fmt.Errorf("payload is not JSON")
	}

	pub, err := parsePublicKey(publicPEM)
	if err != nil {
		return nil, err
	}

	sessionKey := make([]byte, sessionKeyLen)
	if _, err := rand.Read(sessionKey); err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}

	iv := make([]byte, gcmIVLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}

	gcm, err := newGCM(sessionKey, gcmIVLen)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	tagLen := gcm.Overhead()
	ciphertext := sealed[:len(sealed)-tagLen]
	authTag := sealed[len(sealed)-tagLen:]

	encryptedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, sessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("wrapping session key: %w", err)
	}

	env := Envelope{
		Version: envelopeVersion,
		Algorithm: envelopeAlgorithm{
			Symmetric:  symmetricAlgorithm,
			Asymmetric: asymmetricAlgorithm,
		},
		Data: envelopeData{
			Ciphertext:   base64.StdEncoding.EncodeToString(ciphertext),
			EncryptedKey: base64.StdEncoding.EncodeToString(encryptedKey),
			IV:           base64.StdEncoding.EncodeToString(iv),
			AuthTag:      base64.StdEncoding.EncodeToString(authTag),
		},
	}

	return json.Marshal(env)
}

func decodeEnvelopeField(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("envelope field %s is empty: %w", name, errs.ErrDecryptionFailed)
	}

	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decoding envelope field %s: %w", name, errs.ErrDecryptionFailed)
	}

	return data, nil
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	if len(key) != sessionKeyLen {
		return nil, fmt.Errorf("invalid session key length %d: expected %d bytes", len(key), sessionKeyLen)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	if nonceSize == gcmIVLen {
		return cipher.NewGCM(block)
	}

	return cipher.NewGCMWithNonceSize(block, nonceSize)
}
