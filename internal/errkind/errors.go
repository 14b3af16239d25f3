package errkind

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind identifies a failure category. Every error that crosses a component
// boundary carries exactly one Kind; retry decisions and HTTP status codes
// are derived from it.
type Kind string

const (
	// Validation
	KindInputInvalid   Kind = "input_invalid"
	KindSchemaMismatch Kind = "schema_mismatch"
	KindRequiredField  Kind = "required_field"

	// Resource
	KindNotFound      Kind = "not_found"
	KindAlreadyExists Kind = "already_exists"
	KindExhausted     Kind = "exhausted"

	// Auth
	KindAuthenticationFailed Kind = "authentication_failed"
	KindAuthorizationDenied  Kind = "authorization_denied"
	KindTokenExpired         Kind = "token_expired"
	KindTokenInvalid         Kind = "token_invalid"

	// Storage
	KindQueryFailed        Kind = "query_failed"
	KindDBConnectionFailed Kind = "db_connection_failed"
	KindDuplicateKey       Kind = "duplicate_key"
	KindFKViolation        Kind = "fk_violation"
	KindTransactionFailed  Kind = "transaction_failed"

	// Filesystem
	KindFileNotFound     Kind = "file_not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindDiskFull         Kind = "disk_full"
	KindReadFailed       Kind = "read_failed"
	KindWriteFailed      Kind = "write_failed"

	// Network
	KindConnectionFailed Kind = "connection_failed"
	KindTimeout          Kind = "timeout"
	KindDNSFailed        Kind = "dns_failed"

	// Provider
	KindRateLimit       Kind = "rate_limit"
	KindServerError     Kind = "server_error"
	KindUnavailable     Kind = "unavailable"
	KindInvalidResponse Kind = "invalid_response"

	// Permanent
	KindConfiguration  Kind = "configuration"
	KindNotImplemented Kind = "not_implemented"
	KindInvalidState   Kind = "invalid_state"
)

// retryableKinds holds the kinds that are retryable unconditionally.
// KindServerError is retryable only when the carried HTTP status is >= 500.
// KindTransactionFailed is retryable because Classify maps Postgres
// serialization and deadlock aborts (40001, 40P01) to it; both succeed
// when the transaction is replayed.
var retryableKinds = map[Kind]bool{
	KindQueryFailed:        true,
	KindDBConnectionFailed: true,
	KindTransactionFailed:  true,
	KindWriteFailed:        true,
	KindConnectionFailed:   true,
	KindTimeout:            true,
	KindDNSFailed:          true,
	KindRateLimit:          true,
	KindUnavailable:        true,
}

// Error is the single tagged error type used across the pipeline.
type Error struct {
	Kind       Kind
	Message    string
	Context    map[string]interface{}
	StatusCode int            // HTTP status of a provider response, when known
	RetryAfter time.Duration  // backoff hint, 0 when the provider gave none
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the queue may schedule another attempt.
func (e *Error) Retryable() bool {
	if e.Kind == KindServerError {
		return e.StatusCode >= 500
	}
	return retryableKinds[e.Kind]
}

// WithContext attaches a key/value pair for logging and returns the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{}, 4)
	}
	e.Context[key] = value
	return e
}

// WithRetryAfter attaches a provider backoff hint and returns the error.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithStatus attaches the upstream HTTP status and returns the error.
func (e *Error) WithStatus(status int) *Error {
	e.StatusCode = status
	return e
}

// New creates a tagged error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a tagged error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error. A nil cause returns nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf returns the Kind carried by err, or KindInvalidState for untagged
// errors (untagged errors are treated as programmer errors).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInvalidState
}

// IsRetryable reports whether err may be retried. Untagged errors are not.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// RetryAfterOf returns the backoff hint carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Operational reports whether err is an expected runtime failure. Programmer
// errors (invalid state, not implemented, configuration) are surfaced to
// users as generic 500s with the message hidden.
func Operational(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindNotImplemented, KindInvalidState:
		return false
	}
	return true
}

// HTTPStatus maps a kind to the user-visible response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInputInvalid, KindSchemaMismatch, KindRequiredField:
		return http.StatusBadRequest
	case KindAuthenticationFailed, KindTokenExpired, KindTokenInvalid:
		return http.StatusUnauthorized
	case KindAuthorizationDenied:
		return http.StatusForbidden
	case KindNotFound, KindFileNotFound:
		return http.StatusNotFound
	case KindAlreadyExists, KindDuplicateKey:
		return http.StatusConflict
	case KindRateLimit, KindExhausted:
		return http.StatusTooManyRequests
	case KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
