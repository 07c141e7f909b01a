package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// The error taxonomy for agent supervision. Classification decides retry
// behavior: validation and transient-provider failures retry locally,
// timeouts retry while budget remains, fatal config errors abort immediately.

// ValidationError indicates an agent's output failed to match its expected
// structure or value constraints.
type ValidationError struct {
	Agent string
	Err   error
}

func (e *ValidationError) Error() string {
	return "validation failed for " + e.Agent + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError wraps err as a retryable validation failure.
func NewValidationError(agent string, err error) *ValidationError {
	return &ValidationError{Agent: agent, Err: err}
}

// TimeoutError indicates an agent's deadline expired before it produced a
// result. The in-flight call is abandoned, not cancelled.
type TimeoutError struct {
	Agent   string
	Elapsed string
}

func (e *TimeoutError) Error() string {
	return "agent " + e.Agent + " timed out after " + e.Elapsed
}

// TransientProviderError wraps a provider-side failure that is safe to retry
// (rate limit, 5xx, network interruption).
type TransientProviderError struct {
	Err        error
	StatusCode int
}

func (e *TransientProviderError) Error() string { return e.Err.Error() }

func (e *TransientProviderError) Unwrap() error { return e.Err }

// NewTransientProviderError wraps an error as transient with an optional HTTP
// status code.
func NewTransientProviderError(err error, statusCode int) *TransientProviderError {
	return &TransientProviderError{Err: err, StatusCode: statusCode}
}

// FatalConfigError indicates missing or invalid required configuration.
// It is never retried.
type FatalConfigError struct {
	Err error
}

func (e *FatalConfigError) Error() string { return e.Err.Error() }

func (e *FatalConfigError) Unwrap() error { return e.Err }

// NewFatalConfigError wraps err as a non-retryable configuration failure.
func NewFatalConfigError(err error) *FatalConfigError {
	return &FatalConfigError{Err: err}
}

// IsValidation reports whether the chain contains a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTimeout reports whether the chain contains a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsFatalConfig reports whether the chain contains a FatalConfigError.
func IsFatalConfig(err error) bool {
	var fe *FatalConfigError
	return errors.As(err, &fe)
}

// IsRetryable reports whether an agent failure should be re-attempted while
// retry budget remains. Fatal config errors always short-circuit.
func IsRetryable(err error) bool {
	if err == nil || IsFatalConfig(err) {
		return false
	}
	return IsValidation(err) || IsTimeout(err) || IsTransient(err)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientProviderError, or matches common transient network failure
// patterns (timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var tpe *TransientProviderError
	if errors.As(err, &tpe) {
		return true
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

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"overloaded",
		"rate limit",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504, // Gateway Timeout
		529: // Provider overloaded
		return true
	default:
		return false
	}
}
