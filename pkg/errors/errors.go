package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures the way the pools and the scheduler
// need to react to them.
type ErrorType string

const (
	// ErrorTypeNetwork is a transient network failure: small health
	// penalty on the credential, retryable, no ban.
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeRateLimit bans the proxy involved immediately; the
	// credential is unaffected.
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeAuth is an authentication or session-invalid failure:
	// bans the credential with an extended cooldown.
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeEmpty marks an empty result set; not a failure by
	// itself, but streaks of it soft-ban the credential.
	ErrorTypeEmpty ErrorType = "empty"
	// ErrorTypeStorage is a persistence write failure: logged and
	// counted, never aborts a batch or cycle.
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypePoolExhausted means no eligible credential/proxy pair
	// could be selected even after forced recovery.
	ErrorTypePoolExhausted ErrorType = "pool_exhausted"
	// ErrorTypeConfig is fatal at startup only.
	ErrorTypeConfig ErrorType = "config"
	ErrorTypeUnknown ErrorType = "unknown"
)

// Error carries a classified failure through the retrieval and
// persistence paths.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(t ErrorType, msg string) *Error {
	return &Error{Type: t, Message: msg}
}

// Wrap classifies an underlying error.
func Wrap(t ErrorType, msg string, err error) *Error {
	return &Error{Type: t, Message: msg, Err: err}
}

// TypeOf extracts the classification of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable reports whether an error type is worth retrying with the
// same pair.
func IsRetryable(t ErrorType) bool {
	switch t {
	case ErrorTypeNetwork, ErrorTypeStorage:
		return true
	case ErrorTypeRateLimit, ErrorTypeAuth, ErrorTypeConfig, ErrorTypePoolExhausted:
		return false
	default:
		return false
	}
}
