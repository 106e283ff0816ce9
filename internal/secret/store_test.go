package secret

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/mock/gomock"
)

func testEncryptor(t *testing.T) Encryptor {
	t.Helper()

	key := sha256.Sum256([]byte("test-master-key"))

	enc, err := newAEADEncryptor(key[:])
	require.NoError(t, err)

	return enc
}

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "secrets.db"), testEncryptor(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestStore_SetGetRoundTrip(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Set("acme", KeyPATClientID, []byte("abc")))

	got, ok, err := s.Get("acme", KeyPATClientID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), got)
}

func TestStore_GetAbsentIsNotAnError(t *testing.T) {
	s := testStore(t)

	got, ok, err := s.Get("acme", KeyOAuthAccessToken)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestStore_EnvironmentsAreIsolated(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Set("acme", KeyPATClientID, []byte("acme-id")))
	require.NoError(t, s.Set("globex", KeyPATClientID, []byte("globex-id")))

	got, ok, err := s.Get("acme", KeyPATClientID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("acme-id"), got)
}

func TestStore_SetReplacesWhole(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Set("acme", KeyOAuthAccessToken, []byte("old-token")))
	require.NoError(t, s.Set("acme", KeyOAuthAccessToken, []byte("new")))

	got, _, err := s.Get("acme", KeyOAuthAccessToken)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Set("acme", KeyPATClientSecret, []byte("xyz")))

	require.NoError(t, s.Delete("acme", KeyPATClientSecret))
	require.NoError(t, s.Delete("acme", KeyPATClientSecret), "second delete must not error")
	require.NoError(t, s.Delete("never-existed", KeyPATClientSecret))

	_, ok, err := s.Get("acme", KeyPATClientSecret)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DeleteAllLeavesNoResidue(t *testing.T) {
	s := testStore(t)

	for _, key := range AllKeys {
		require.NoError(t, s.Set("acme", key, []byte("value-"+key)))
	}

	require.NoError(t, s.DeleteAll("acme"))
	require.NoError(t, s.DeleteAll("acme"), "deleting an empty namespace is fine")

	keys, err := s.Keys("acme")
	require.NoError(t, err)
	assert.Empty(t, keys)

	for _, key := range AllKeys {
		_, ok, err := s.Get("acme", key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
}

func TestStore_ValuesEncryptedAtRest(t *testing.T) {
	s := testStore(t)

	secretValue := []byte("super-secret-refresh-token")
	require.NoError(t, s.Set("acme", KeyOAuthRefreshToken, secretValue))

	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw = tx.Bucket(envBucket("acme")).Get([]byte(KeyOAuthRefreshToken))
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, raw)

	assert.NotEqual(t, secretValue, raw)
	assert.False(t, bytes.Contains(raw, secretValue), "plaintext must not appear on disk")
}

func TestStore_EncryptFailureWritesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	enc := NewMockEncryptor(ctrl)
	enc.EXPECT().Encrypt(gomock.Any()).Return(nil, fmt.Errorf("keychain locked"))

	s, err := Open(filepath.Join(t.TempDir(), "secrets.db"), enc)
	require.NoError(t, err)
	defer s.Close()

	err = s.Set("acme", KeyPATAccessToken, []byte("tok"))
	require.Error(t, err)

	keys, err := s.Keys("acme")
	require.NoError(t, err)
	assert.Empty(t, keys, "a failed encrypt must not leave a partial write")
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.db")
	enc := testEncryptor(t)

	s, err := Open(path, enc)
	require.NoError(t, err)
	require.NoError(t, s.Set("acme", KeyOAuthExpiry, []byte("2031-01-01T00:00:00Z")))
	require.NoError(t, s.Close())

	s2, err := Open(path, enc)
	require.NoError(t, err)
	defer s2.Close()

	got, ok, err := s2.Get("acme", KeyOAuthExpiry)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("2031-01-01T00:00:00Z"), got)
}

func TestPassphraseEncryptor_StableAcrossInstances(t *testing.T) {
	saltPath := filepath.Join(t.TempDir(), "salt")

	e1, err := NewPassphraseEncryptor("correct horse battery staple", saltPath)
	require.NoError(t, err)

	sealed, err := e1.Encrypt([]byte("payload"))
	require.NoError(t, err)

	// Same passphrase, same salt file: a fresh encryptor can open the blob.
	e2, err := NewPassphraseEncryptor("correct horse battery staple", saltPath)
	require.NoError(t, err)

	plain, err := e2.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), plain)
}

func TestPassphraseEncryptor_WrongPassphraseFails(t *testing.T) {
	saltPath := filepath.Join(t.TempDir(), "salt")

	e1, err := NewPassphraseEncryptor("right", saltPath)
	require.NoError(t, err)

	sealed, err := e1.Encrypt([]byte("payload"))
	require.NoError(t, err)

	e2, err := NewPassphraseEncryptor("wrong", saltPath)
	require.NoError(t, err)

	_, err = e2.Decrypt(sealed)
	assert.Error(t, err)
}

func TestPassphraseEncryptor_EmptyPassphraseRejected(t *testing.T) {
	_, err := NewPassphraseEncryptor("", filepath.Join(t.TempDir(), "salt"))
	assert.Error(t, err)
}
