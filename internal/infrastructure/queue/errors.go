package queue

import "errors"

// permanentError marks a handler failure that must not be retried
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the queue fails the job without further attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// retryable is implemented by errors that carry their own retry decision,
// such as conversion.DeliveryError
type retryable interface {
	IsRetryable() bool
}

// IsPermanent reports whether a handler error forbids another attempt.
// Errors are retryable unless wrapped with Permanent or reporting
// IsRetryable() == false.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var p *permanentError
	if errors.As(err, &p) {
		return true
	}
	var r retryable
	if errors.As(err, &r) {
		return !r.IsRetryable()
	}
	return false
}
