// Package credstore persists acquired session credentials between runs
// so that a restart does not re-scan every browser profile on disk.
package credstore

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that no credential is stored under the given key.
var ErrNotFound = errors.New("credstore: not found")

// Store is a small keyed secret store. Keys are provider identifiers,
// values are opaque credential strings (cookie headers or tokens).
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Open returns the best store available on this platform: the system
// keychain where one exists, otherwise a passphrase-less encrypted file
// under dir keyed to the local machine.
func Open(dir string) (Store, error) {
	if s, err := openKeychain(); err == nil {
		return s, nil
	}
	s, err := openEncryptedFile(dir)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}
	return s, nil
}
