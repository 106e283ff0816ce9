// Package crypto implements the stateless codec used by the authentication
// flows: RSA keypair generation, hybrid envelope decryption (RSA-OAEP key
// unwrap + AES-256-GCM), the deprecated symmetric-only legacy envelope, and
// unverified JWT claim reading.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// KeyPair holds a PEM-encoded RSA keypair. The public half is sent to the
// relay; the private half never leaves the secret store.
type KeyPair struct {
	PublicPEM  []byte
	PrivatePEM []byte
}

// GenerateKeyPair generates an RSA keypair of the given size.
// Only 2048, 3072 and 4096 bit keys are accepted.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	switch bits {
	case 2048, 3072, 4096:
	default:
		return nil, fmt.Errorf("unsupported RSA key size %d: expected 2048, 3072 or 4096", bits)
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encoding private key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("encoding public key: %w", err)
	}

	return &KeyPair{
		PublicPEM:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
		PrivatePEM: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}),
	}, nil
}

// parsePrivateKey decodes a PEM-encoded RSA private key. PKCS#8 is the
// format we generate; PKCS#1 is accepted for keys provisioned elsewhere.
func parsePrivateKey(privatePEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(privatePEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, not RSA", key)
		}

		return rsaKey, nil
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	return key, nil
}

// parsePublicKey decodes a PEM-encoded RSA public key in PKIX form.
func parsePublicKey(publicPEM []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(publicPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public key")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", key)
	}

	return rsaKey, nil
}
