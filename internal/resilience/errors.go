// Package resilience provides retry, circuit breaker, and failure
// classification primitives for calls to the inference oracle.
package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError marks an error as safe to retry: rate limits, server-side
// 5xx responses, timeouts, and broken connections.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient, recording the HTTP status code
// when one is known (0 otherwise).
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err (anywhere in its chain) warrants a retry.
// Explicit TransientError wrappers, network timeouts, dropped connections,
// and DNS hiccups all count.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// context.DeadlineExceeded satisfies net.Error, so rule context errors
	// out first: a bare one means the caller gave up, not the network. A
	// per-call timeout that is worth retrying arrives wrapped as
	// TransientError and was caught above.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped client errors often survive only as text.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"overloaded",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsRateLimit reports whether err is specifically a rate-limit rejection
// (HTTP 429). Rate limits are transient, but callers slow down on them
// instead of merely retrying.
func IsRateLimit(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return te.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status code indicates a
// retryable condition. 529 is the oracle's overloaded signal.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		529:
		return true
	default:
		return false
	}
}
