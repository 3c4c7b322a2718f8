package llm

import (
	"fmt"
	"strings"
)

// Error wraps a model backend failure with the operation that produced it
// and whether a retry could plausibly succeed.
type Error struct {
	// Op is the operation that failed ("complete", "stream").
	Op string
	// Err is the underlying error.
	Err error
	// Retryable is true for transient failures (timeouts, 429s, 5xx).
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error.
func NewError(op string, err error, retryable bool) *Error {
	return &Error{Op: op, Err: err, Retryable: retryable}
}

// isRetryableStatus reports whether an HTTP status from a model backend
// is worth retrying.
func isRetryableStatus(status int) bool {
	return status == 429 || status >= 500
}

// isRetryableMessage makes a best-effort guess from an error body when the
// backend gives no usable status.
func isRetryableMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"rate limit", "overloaded", "timeout", "temporarily"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
