package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a domain failure that knows its HTTP status. Code is the stable
// identifier clients switch on; Message is for humans.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap returns a copy of e that carries cause and, when set, a new message.
func (e *Error) Wrap(cause error, message string) *Error {
	out := Clone(e, message)
	out.Err = cause
	return out
}

// New declares an error kind.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Error kinds shared by the services and handlers.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrInvalidCredentials   = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount      = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrIdentityUnavailable  = New("IDENTITY_UNAVAILABLE", http.StatusServiceUnavailable, "identity provider unavailable")
	ErrStoreUnavailable     = New("STORE_UNAVAILABLE", http.StatusServiceUnavailable, "local store unavailable")
	ErrMigrationStepFailure = New("MIGRATION_STEP_FAILURE", http.StatusInternalServerError, "migration step failed")
	ErrQueueExhausted       = New("QUEUE_EXHAUSTED", http.StatusConflict, "offline item exhausted its retries")
	ErrRemoteRejected       = New("REMOTE_REJECTED", http.StatusBadGateway, "remote store rejected the write")
)

// FromError finds the *Error in err's chain. Anything else becomes an
// internal error that still unwraps to err.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.Wrap(err, "")
}

// Clone copies err, replacing the message when one is given.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the same code as target. Cloned and wrapped
// errors keep their code, so this matches them too.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	return errors.As(err, &e) && e.Code == target.Code
}

// IsUnauthorized matches both failed authentication and failed role checks.
func IsUnauthorized(err error) bool {
	return Is(err, ErrUnauthorized) || Is(err, ErrForbidden)
}

// StoreUnavailable wraps a local store failure.
func StoreUnavailable(err error, message string) *Error {
	return ErrStoreUnavailable.Wrap(err, message)
}
