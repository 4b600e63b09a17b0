// Package apperr defines the error taxonomy shared by every component of the
// accounting agent. Callers classify failures by wrapping them in one of the
// constructors below; the API layer switches on the taxonomy rather than
// inspecting error strings. The dispatcher does not consult the taxonomy: it
// retries every failed attempt up to its attempt cap, whatever the Kind.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry and HTTP-status purposes.
type Kind string

const (
	// KindValidation marks bad input: unknown run_type, missing
	// evidence_ack, malformed payload. Not retryable (see Retryable).
	KindValidation Kind = "validation"
	// KindConflict marks an idempotency collision, a maker==checker
	// violation, or an approval attempt on a terminal proposal. Not
	// retryable (see Retryable).
	KindConflict Kind = "conflict"
	// KindUpstream marks ERP 5xx, network errors, and timeouts. Retried
	// by the ERP client up to its cap; retryable.
	KindUpstream Kind = "upstream"
	// KindStorage marks a DB outage or a non-idempotency constraint
	// violation. Retryable.
	KindStorage Kind = "storage"
	// KindLogic marks a bug. Logged with a stack-bearing wrap. Not
	// retryable (see Retryable).
	KindLogic Kind = "logic"
)

// Error is the concrete type every taxonomy constructor returns.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable classifies this error for retry purposes: upstream and storage
// errors are retryable; validation, conflict, and logic errors are not. The
// dispatcher does not call it.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindUpstream, KindStorage:
		return true
	default:
		return false
	}
}

// HTTPStatus maps the taxonomy to the status code the API surface returns.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	case KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Upstream(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUpstream, Message: fmt.Sprintf(format, args...), Err: err}
}

func Storage(err error, format string, args ...any) *Error {
	return &Error{Kind: KindStorage, Message: fmt.Sprintf(format, args...), Err: err}
}

func Logic(err error, format string, args ...any) *Error {
	return &Error{Kind: KindLogic, Message: fmt.Sprintf(format, args...), Err: err}
}

// As is a thin wrapper over errors.As for the common case of recovering the
// taxonomy from an arbitrary error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Retryable reports whether err should be retried, defaulting to true for
// errors outside the taxonomy (treated as storage-like transient faults)
// so an unexpected panic-recovered error still gets a retry budget.
func Retryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return true
}
