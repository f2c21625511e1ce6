package store

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a key has no committed entry.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidKey is returned for keys that cannot name a directory under the root.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidValue is returned when a value is not a single valid JSON document.
	ErrInvalidValue = errors.New("invalid JSON value")
)

// StorageError reports a file-system failure while touching a key.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
