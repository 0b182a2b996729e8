package store

import (
	"errors"
	"fmt"
)

// StorageError wraps a storage-medium failure. It is fatal to the operation
// in progress and is never retried below this layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err originated in the durable store.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
