package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNamespaceNotFound is returned when no record has ever been written
	// to the namespace.
	ErrNamespaceNotFound = errors.New("namespace not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// IsNotFound reports whether err means the record is absent, whether or not
// its namespace exists.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNamespaceNotFound)
}
