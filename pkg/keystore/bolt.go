package keystore

import (
	"fmt"
	"strings"

	bolt "go.etcd.io/bbolt"
)

var bucketSecrets = []byte("secrets")

// BoltStore is a Store backed by a single-file bbolt database. Values
// are sealed with XChaCha20-Poly1305 under the store key before they
// touch disk, and every mutation is committed before the call returns.
type BoltStore struct {
	db  *bolt.DB
	key []byte
}

// Make sure we conform to the interface
var _ Store = (*BoltStore)(nil)

// OpenBolt opens (or creates) the database at path. key must be
// StoreKeyLen bytes and is used for at-rest encryption of all values.
func OpenBolt(path string, key []byte) (*BoltStore, error) {
	if len(key) != StoreKeyLen {
		return nil, fmt.Errorf("store key must be %d bytes, got %d", StoreKeyLen, len(key))
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open keystore at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSecrets)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create secrets bucket: %w", err)
	}
	return &BoltStore{db: db, key: append([]byte(nil), key...)}, nil
}

// Set writes and commits the sealed value before returning.
func (s *BoltStore) Set(key, value string) error {
	sealed, err := seal(s.key, []byte(value))
	if err != nil {
		return fmt.Errorf("seal value for %s: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).Put([]byte(key), sealed)
	})
}

// Get reads and unseals the value for key.
func (s *BoltStore) Get(key string) (string, bool, error) {
	var sealed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSecrets).Get([]byte(key)); v != nil {
			sealed = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if sealed == nil {
		return "", false, nil
	}
	plain, err := open(s.key, sealed)
	if err != nil {
		return "", false, fmt.Errorf("unseal value for %s: %w", key, err)
	}
	return string(plain), true, nil
}

// Delete removes key; missing keys are a no-op.
func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).Delete([]byte(key))
	})
}

// List returns all keys with the given prefix.
func (s *BoltStore) List(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSecrets).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
