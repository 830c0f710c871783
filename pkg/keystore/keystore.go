// Package keystore provides the secure key-value store used for wallet
// secrets, ephemeral key records and the pending-transaction snapshot.
package keystore

import "errors"

// ErrClosed is returned when the store is used after Close.
var ErrClosed = errors.New("keystore: store is closed")

// Store is an opaque string key-value store. Implementations must make
// every Set/Delete durable before returning, so a crash immediately
// after a call can never lose the write.
type Store interface {
	// Set writes value under key, overwriting any previous value.
	Set(key, value string) error

	// Get returns the value for key. The bool reports whether the key
	// exists; a missing key is not an error.
	Get(key string) (string, bool, error)

	// Delete removes key. Deleting a missing key is a no-op.
	Delete(key string) error

	// List returns all keys starting with prefix, in unspecified order.
	List(prefix string) ([]string, error)

	// Close releases the underlying resources.
	Close() error
}
