package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// retryable is implemented by provider errors that know whether the failure
// is worth another attempt.
type retryable interface {
	Retryable() bool
}

// IsTransient reports whether err is a network failure, a timeout, or a
// provider error that declares itself retryable (429 and 5xx). Cancellation
// by the caller is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// RetryableStatus reports whether an HTTP status is worth retrying.
func RetryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}
