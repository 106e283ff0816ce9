package secret

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// storeDirPerm is the permission mode for the directory holding the
	// secret database.
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for the secret database file.
	storeFilePerm = fs.FileMode(0o600)

	// storeOpenTimeout is the maximum time to wait for the bolt database lock.
	storeOpenTimeout = 5 * time.Second
)

func envBucket(environment string) []byte {
	return []byte("env:" + environment)
}

// Store persists encrypted secret blobs keyed by (key, environment).
// Each environment owns a bucket; bbolt serializes writes, so a blob is
// always written whole or not at all.
type Store struct {
	db  *bolt.DB
	enc Encryptor
}

// Open opens (creating if needed) the secret database at path. Every value
// is passed through enc before it is written and after it is read.
func Open(path string, enc Encryptor) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating secret store directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening secret store: %w", err)
	}

	return &Store{db: db, enc: enc}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the decrypted value for (key, environment). A missing entry is
// reported via ok=false, never as an error.
func (s *Store) Get(environment, key string) (value []byte, ok bool, err error) {
	var blob []byte

	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(envBucket(environment))
		if b == nil {
			return nil
		}

		if v := b.Get([]byte(key)); v != nil {
			blob = make([]byte, len(v))
			copy(blob, v)
		}

		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading secret %s for %q: %w", key, environment, err)
	}

	if blob == nil {
		return nil, false, nil
	}

	plaintext, err := s.enc.Decrypt(blob)
	if err != nil {
		return nil, false, fmt.Errorf("decrypting secret %s for %q: %w", key, environment, err)
	}

	return plaintext, true, nil
}

// Set encrypts value and stores it under (key, environment), replacing any
// previous value whole.
func (s *Store) Set(environment, key string, value []byte) error {
	blob, err := s.enc.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypting secret %s for %q: %w", key, environment, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(envBucket(environment))
		if err != nil {
			return err
		}

		return b.Put([]byte(key), blob)
	})
	if err != nil {
		return fmt.Errorf("writing secret %s for %q: %w", key, environment, err)
	}

	return nil
}

// Delete removes (key, environment). Deleting an absent key is not an error.
func (s *Store) Delete(environment, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(envBucket(environment))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("deleting secret %s for %q: %w", key, environment, err)
	}

	return nil
}

// DeleteAll removes every secret stored under the environment's namespace.
// Used when the environment record itself is deleted.
func (s *Store) DeleteAll(environment string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(envBucket(environment))
		if err == bolt.ErrBucketNotFound {
			return nil
		}

		return err
	})
	if err != nil {
		return fmt.Errorf("deleting secrets for %q: %w", environment, err)
	}

	return nil
}

// Keys lists the secret keys currently stored for an environment.
func (s *Store) Keys(environment string) ([]string, error) {
	var keys []string

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(envBucket(environment))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing secrets for %q: %w", environment, err)
	}

	return keys, nil
}
