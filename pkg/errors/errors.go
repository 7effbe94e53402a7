// Package errors provides common domain error types for meetscribe.
//
// This package defines sentinel errors for common domain conditions like
// "not found" or "conflict" that can be used across all packages. Using
// typed errors enables consistent error handling patterns with errors.Is()
// checks.
package errors

import "errors"

// Domain errors - common sentinel errors for domain conditions.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a conflict with existing data or state,
	// e.g. a lost claim race or a rejected status transition.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized indicates the request lacks valid authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState indicates the operation is not valid for the
	// record's current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrUnknownPlugin indicates a plugin name that is not registered.
	// This is a configuration-class error raised at meeting creation,
	// never silently defaulted.
	ErrUnknownPlugin = errors.New("unknown plugin")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnauthorized reports whether any error in err's chain is ErrUnauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsUnknownPlugin reports whether any error in err's chain is ErrUnknownPlugin.
func IsUnknownPlugin(err error) bool {
	return errors.Is(err, ErrUnknownPlugin)
}
