package retry

import (
	"errors"
	"fmt"
)

// ErrExhausted is the sentinel matched by errors.Is when all attempts fail.
var ErrExhausted = errors.New("retry: attempts exhausted")

// ExhaustedError reports that an operation failed on every attempt.
// It wraps the error from the final attempt.
type ExhaustedError struct {
	// Attempts is the total number of attempts made (initial + retries).
	Attempts int

	// Err is the error returned by the last attempt.
	Err error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: exhausted after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last underlying error.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent wraps an error so Execute returns it immediately without
// further attempts. Use for validation and permission failures where
// repeating the call cannot succeed.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or any error it wraps) was marked
// with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
