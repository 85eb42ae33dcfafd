package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced room, question or answer does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermission is returned when an ownership check or a backend policy rejects a mutation.
	ErrPermission = errors.New("permission denied")
	// ErrValidation indicates caller-supplied data violates a precondition.
	ErrValidation = errors.New("validation failed")
	// ErrTransient covers network, timeout and unexpected backend faults.
	ErrTransient = errors.New("backend unavailable")
	// ErrConflict signals a reaction uniqueness race. Stores resolve it as a no-op.
	ErrConflict = errors.New("conflict")
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned when signing up with a registered email.
	ErrEmailTaken = errors.New("email already registered")
)

// BackendError wraps an unexpected backend failure. It matches ErrTransient.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrTransient, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return target == ErrTransient }

// Transient wraps err as a BackendError for op.
func Transient(op string, err error) error {
	return &BackendError{Op: op, Err: err}
}

// Invalid builds an ErrValidation with a message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
