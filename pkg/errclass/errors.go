// Package errclass defines the stable, machine-readable error classes
// returned by the snapshot core.
package errclass

import "fmt"

// Error is a stable, machine-readable error class.
type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithMessage returns a new Error with the same Code but a specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg}
}

// WithMessagef returns a new Error with a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a new Error of the same class carrying cause.
func (e *Error) Wrap(cause error, msg string) *Error {
	return &Error{Code: e.Code, Message: msg, cause: cause}
}

var (
	ErrNoTransition        = &Error{Code: "E_NO_TRANSITION"}
	ErrDuplicateTransition = &Error{Code: "E_DUPLICATE_TRANSITION"}
	ErrConcurrentUpdate    = &Error{Code: "E_CONCURRENT_UPDATE"}
	ErrLockConflict        = &Error{Code: "E_LOCK_CONFLICT"}
	ErrLockExpired         = &Error{Code: "E_LOCK_EXPIRED"}
	ErrLockNotHeld         = &Error{Code: "E_LOCK_NOT_HELD"}
	ErrBackendFailure      = &Error{Code: "E_BACKEND_FAILURE"}
	ErrInterrupted         = &Error{Code: "E_INTERRUPTED"}
	ErrInvalidParameter    = &Error{Code: "E_INVALID_PARAMETER"}
	ErrNoStrategy          = &Error{Code: "E_NO_STRATEGY"}
	ErrNotFound            = &Error{Code: "E_NOT_FOUND"}
	ErrStoreUnavailable    = &Error{Code: "E_STORE_UNAVAILABLE"}
	ErrExecutorStopped     = &Error{Code: "E_EXECUTOR_STOPPED"}
	ErrAuditChainBroken    = &Error{Code: "E_AUDIT_CHAIN_BROKEN"}
	ErrPayloadHashMismatch = &Error{Code: "E_PAYLOAD_HASH_MISMATCH"}
	ErrUnhealthy           = &Error{Code: "E_UNHEALTHY"}
	ErrNameInvalid         = &Error{Code: "E_NAME_INVALID"}
	ErrPathEscape          = &Error{Code: "E_PATH_ESCAPE"}
)
