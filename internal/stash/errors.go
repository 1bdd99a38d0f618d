package stash

import (
	"errors"
	"fmt"
)

// Sentinel errors. Check with errors.Is.
var (
	// ErrNotFound: the requested file entry, directory entry or blob does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation: the ledger and the registry or blob store disagree.
	// Always logged as a consistency violation.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrValidation: malformed caller input such as an unusable display name.
	ErrValidation = errors.New("validation failed")

	// ErrExists: a directory with the same path already exists.
	ErrExists = errors.New("already exists")

	// ErrTooLarge: an upload exceeded the configured maximum size.
	ErrTooLarge = fmt.Errorf("%w: upload too large", ErrValidation)
)

// IOError reports a durable-storage failure while staging, publishing or
// reading content.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// NewIOError wraps err as an IOError for op. Returns nil when err is nil.
func NewIOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}
