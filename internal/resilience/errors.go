package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (timeout, 5xx,
// dropped connection).
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

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError wraps an error that must not be retried: malformed input,
// quota or permission failures, or a transient failure whose retries are
// exhausted.
type PermanentError struct {
	Err        error
	StatusCode int
	Exhausted  bool
	Attempts   int
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps an error as permanent with an optional HTTP status code.
func NewPermanentError(err error, statusCode int) *PermanentError {
	return &PermanentError{Err: err, StatusCode: statusCode}
}

// IsPermanent returns true if err carries an explicit PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsExhausted returns true if err is a transient failure that ran out of
// retries.
func IsExhausted(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe) && pe.Exhausted
}

// Attempts returns the number of attempts recorded on err, or 1.
func Attempts(err error) int {
	var pe *PermanentError
	if errors.As(err, &pe) && pe.Attempts > 0 {
		return pe.Attempts
	}
	return 1
}

// IsTransient returns true if the error chain carries a TransientError or
// matches a network-level transient failure. A PermanentError anywhere in
// the chain takes precedence.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if IsPermanent(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
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

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the status code indicates a
// server-side hiccup that is safe to retry: 408 and every 5xx except 501.
// 429 is treated as a quota failure and is not retried; throttling happens
// before the call.
func IsTransientHTTPStatus(statusCode int) bool {
	if statusCode == http.StatusRequestTimeout {
		return true
	}
	return statusCode >= 500 && statusCode < 600 && statusCode != http.StatusNotImplemented
}

// ClassifyHTTP wraps err according to the response status code.
func ClassifyHTTP(err error, statusCode int) error {
	if IsTransientHTTPStatus(statusCode) {
		return NewTransientError(err, statusCode)
	}
	return NewPermanentError(err, statusCode)
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
