package pki

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrConfiguration is returned when the engine is constructed with
	// missing or invalid settings. It is fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound is returned when a referenced certificate, issuer or key
	// entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermission is returned when the requester's role does not allow
	// the operation.
	ErrPermission = errors.New("permission denied")

	// ErrValidation is returned for malformed requests and for issuers that
	// cannot sign (expired, withdrawn, revoked or not a CA).
	ErrValidation = errors.New("validation failed")

	// ErrCryptographic is returned when key unwrapping, signing or a
	// signature self-check fails. It never carries key material.
	ErrCryptographic = errors.New("cryptographic failure")

	// ErrChainValidation is returned when a certificate does not chain to a
	// trusted root.
	ErrChainValidation = errors.New("chain validation failed")

	// ErrDuplicateSerial is returned when a certificate record with the same
	// serial number already exists.
	ErrDuplicateSerial = errors.New("duplicate serial number")
)

// BuildError reports why the certificate builder could not produce a
// certificate. Err carries the category and is matched with errors.Is.
type BuildError struct {
	Reason string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Err == nil {
		return "building certificate: " + e.Reason
	}
	return fmt.Sprintf("building certificate: %s: %v", e.Reason, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

func buildErrorf(category error, format string, args ...any) *BuildError {
	return &BuildError{Reason: fmt.Sprintf(format, args...), Err: category}
}

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func permissionErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermission, fmt.Sprintf(format, args...))
}
