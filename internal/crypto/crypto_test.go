package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/Anneragh/ui-development-kit-sub001/internal/errors"
)

// testKeyPair generates a 2048-bit keypair once per test binary. Key
// generation dominates test runtime otherwise.
var testKeys *KeyPair

func testKeyPair(t *testing.T) *KeyPair {
	t.Helper()

	if testKeys == nil {
		kp, err := GenerateKeyPair(2048)
		require.NoError(t, err)
		testKeys = kp
	}

	return testKeys
}

// --- GenerateKeyPair ---

func TestGenerateKeyPair_PEMShape(t *testing.T) {
	kp := testKeyPair(t)

	assert.Contains(t, string(kp.PublicPEM), "BEGIN PUBLIC KEY")
	assert.Contains(t, string(kp.PrivatePEM), "BEGIN PRIVATE KEY")
}

func TestGenerateKeyPair_RejectsWeakSizes(t *testing.T) {
	for _, bits := range []int{0, 512, 1024, 2047} {
		_, err := GenerateKeyPair(bits)
		assert.Error(t, err, "bits=%d", bits)
	}
}

func TestGenerateKeyPair_ParsesBack(t *testing.T) {
	kp := testKeyPair(t)

	priv, err := parsePrivateKey(kp.PrivatePEM)
	require.NoError(t, err)

	pub, err := parsePublicKey(kp.PublicPEM)
	require.NoError(t, err)

	assert.Equal(t, pub.N, priv.PublicKey.N)
}

// --- Hybrid envelope ---

func TestHybrid_RoundTrip(t *testing.T) {
	kp := testKeyPair(t)

	payload := []byte(`{"accessToken":"at","refreshToken":"rt"}`)

	envelope, err := EncryptHybrid(payload, kp.PublicPEM)
	require.NoError(t, err)

	plain, err := DecryptHybrid(envelope, kp.PrivatePEM)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(plain))
}

func TestHybrid_TamperedAuthTagFailsClosed(t *testing.T) {
	kp := testKeyPair(t)

	envelope, err := EncryptHybrid([]byte(`{"a":1}`), kp.PublicPEM)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(envelope, &env))

	tag, err := base64.StdEncoding.DecodeString(env.Data.AuthTag)
	require.NoError(t, err)
	tag[0] ^= 0xFF
	env.Data.AuthTag = base64.StdEncoding.EncodeToString(tag)

	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	plain, err := DecryptHybrid(tampered, kp.PrivatePEM)
	assert.ErrorIs(t, err, errs.ErrDecryptionFailed)
	assert.Nil(t, plain, "no plaintext may escape on tag mismatch")
}

func TestHybrid_TamperedCiphertextFailsClosed(t *testing.T) {
	kp := testKeyPair(t)

	envelope, err := EncryptHybrid([]byte(`{"a":1}`), kp.PublicPEM)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(envelope, &env))

	ct, err := base64.StdEncoding.DecodeString(env.Data.Ciphertext)
	require.NoError(t, err)
	ct[0] ^= 0xFF
	env.Data.Ciphertext = base64.StdEncoding.EncodeToString(ct)

	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = DecryptHybrid(tampered, kp.PrivatePEM)
	assert.ErrorIs(t, err, errs.ErrDecryptionFailed)
}

func TestHybrid_RejectsUnknownVersion(t *testing.T) {
	kp := testKeyPair(t)

	envelope, err := EncryptHybrid([]byte(`{}`), kp.PublicPEM)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(envelope, &env))
	env.Version = 2

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = DecryptHybrid(raw, kp.PrivatePEM)
	require.ErrorIs(t, err, errs.ErrDecryptionFailed)
	assert.Contains(t, err.Error(), "version")
}

func TestHybrid_RejectsUnknownAlgorithm(t *testing.T) {
	kp := testKeyPair(t)

	envelope, err := EncryptHybrid([]byte(`{}`), kp.PublicPEM)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(envelope, &env))
	env.Algorithm.Symmetric = "AES-256-CBC"

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = DecryptHybrid(raw, kp.PrivatePEM)
	require.ErrorIs(t, err, errs.ErrDecryptionFailed)
	assert.Contains(t, err.Error(), "algorithm")
}

func TestHybrid_RejectsMissingFields(t *testing.T) {
	kp := testKeyPair(t)

	raw := []byte(`{"version":1,"algorithm":{"symmetric":"AES-256-GCM","asymmetric":"RSA-OAEP-SHA256"},"data":{}}`)

	_, err := DecryptHybrid(raw, kp.PrivatePEM)
	assert.ErrorIs(t, err, errs.ErrDecryptionFailed)
}

func TestHybrid_RejectsGarbagePayload(t *testing.T) {
	kp := testKeyPair(t)

	_, err := DecryptHybrid([]byte("not json"), kp.PrivatePEM)
	assert.ErrorIs(t, err, errs.ErrDecryptionFailed)
}

// --- Legacy envelope ---

// legacyEncrypt produces an "iv:ciphertext" token the way old installations
// did: AES-256-CBC with PKCS7 padding, both halves hex-encoded.
func legacyEncrypt(t *testing.T, plaintext, key []byte) string {
	t.Helper()

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+pad)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(pad)
	}

	iv := make([]byte, aes.BlockSize)
	_, err := rand.Read(iv)
	require.NoError(t, err)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct)
}

func legacyKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	return key
}

func TestDecryptLegacy_RoundTrip(t *testing.T) {
	key := legacyKey()
	token := legacyEncrypt(t, []byte("legacy secret"), key)

	plain, err := DecryptLegacy(token, hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, []byte("legacy secret"), plain)
}

func TestDecryptLegacy_FullBlockPadding(t *testing.T) {
	// A 16-byte plaintext forces a full extra padding block.
	key := legacyKey()
	plaintext := []byte("0123456789abcdef")
	token := legacyEncrypt(t, plaintext, key)

	plain, err := DecryptLegacy(token, hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, plaintext, plain)
}

func TestDecryptLegacy_InvalidPaddingReturnsRawBytes(t *testing.T) {
	// Encrypt a block whose trailing byte is not valid padding. The legacy
	// path returns the raw decrypted bytes instead of failing.
	key := legacyKey()

	raw := make([]byte, aes.BlockSize)
	copy(raw, "exactly16bytes!")
	raw[aes.BlockSize-1] = 0xFF

	iv := make([]byte, aes.BlockSize)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	ct := make([]byte, len(raw))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, raw)
	token := hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct)

	plain, err := DecryptLegacy(token, hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, raw, plain)
}

func TestDecryptLegacy_RejectsMalformedToken(t *testing.T) {
	key := hex.EncodeToString(legacyKey())

	for name, token := range map[string]string{
		"no separator":  "deadbeef",
		"bad iv hex":    "zz:deadbeef",
		"bad ct hex":    hex.EncodeToString(make([]byte, 16)) + ":zz",
		"short iv":      "dead:" + hex.EncodeToString(make([]byte, 16)),
		"empty ct":      hex.EncodeToString(make([]byte, 16)) + ":",
		"ct not padded": hex.EncodeToString(make([]byte, 16)) + ":" + hex.EncodeToString(make([]byte, 15)),
	} {
		_, err := DecryptLegacy(token, key)
		assert.ErrorIs(t, err, errs.ErrDecryptionFailed, name)
	}
}

func TestDecryptLegacy_RejectsBadKey(t *testing.T) {
	token := legacyEncrypt(t, []byte("x"), legacyKey())

	_, err := DecryptLegacy(token, "abcd")
	assert.ErrorIs(t, err, errs.ErrDecryptionFailed)
}

// --- TokenExpiry ---

// makeJWT builds an unsigned-but-well-formed JWT carrying the given claims.
// Claims are read without verification, so the signature segment is filler.
func makeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

	body, err := json.Marshal(claims)
	require.NoError(t, err)

	payload := base64.RawURLEncoding.EncodeToString(body)
	sig := base64.RawURLEncoding.EncodeToString([]byte("sig"))

	return header + "." + payload + "." + sig
}

func TestTokenExpiry_ReadsExp(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := makeJWT(t, map[string]any{"exp": exp.Unix(), "sub": "operator"})

	got, err := TokenExpiry(token)
	require.NoError(t, err)
	assert.True(t, got.Equal(exp), "got %v want %v", got, exp)
}

func TestTokenExpiry_MissingExpIsZero(t *testing.T) {
	token := makeJWT(t, map[string]any{"sub": "operator"})

	got, err := TokenExpiry(token)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestTokenExpiry_RejectsWrongSegmentCount(t *testing.T) {
	for _, raw := range []string{"", "onlyone", "two.segments", "a.b.c.d"} {
		_, err := TokenExpiry(raw)
		assert.ErrorIs(t, err, errs.ErrMalformedToken, raw)
	}
}

func TestTokenExpiry_RejectsGarbageSegments(t *testing.T) {
	_, err := TokenExpiry("!!.!!.!!")
	assert.ErrorIs(t, err, errs.ErrMalformedToken)
}
