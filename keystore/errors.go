package keystore

import "errors"

var (
	// ErrConfiguration indicates missing or unusable custody configuration,
	// such as an absent or short passphrase. It is fatal at startup.
	ErrConfiguration = errors.New("keystore configuration error")

	// ErrBadPassphrase indicates the passphrase does not open the container.
	ErrBadPassphrase = errors.New("container passphrase rejected")

	// ErrAliasNotFound indicates no entry exists under the requested alias.
	ErrAliasNotFound = errors.New("alias not found")

	// ErrAliasExists indicates an entry already exists under the alias.
	// Entries are write-once.
	ErrAliasExists = errors.New("alias already exists")

	// ErrDecrypt indicates a stored entry failed authentication. Callers
	// must treat the entry as unusable.
	ErrDecrypt = errors.New("entry failed to decrypt")

	// ErrClosed indicates the container or hierarchy has been closed.
	ErrClosed = errors.New("keystore closed")
)
