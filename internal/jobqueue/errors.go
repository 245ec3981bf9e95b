package jobqueue

import "errors"

// permanentError wraps a handler failure that retrying cannot fix:
// missing rows, broken ownership chains, undecodable payloads. The
// consumer runtime checks for it before applying retry policy and moves
// the job straight to failed.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Returns nil when err is nil so
// handlers can wrap return values unconditionally.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether any error in err's chain was marked with
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
