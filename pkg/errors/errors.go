package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the typed error every layer speaks. Code is the stable machine
// identifier clients branch on; Status is the HTTP status the response
// layer maps it to; Err holds the wrapped cause and never leaves the
// process.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds a bare typed error.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap builds a typed error carrying an underlying cause.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Clone copies a catalogue error, optionally overriding the message, so
// the shared sentinels are never mutated.
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

// FromError normalises any error into an *Error. Unknown errors become
// INTERNAL_ERROR so raw causes are never serialised to clients.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Catalogue of sentinel errors. Handlers and services Clone these rather
// than constructing codes inline.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrInvariant          = New("INVARIANT_VIOLATION", http.StatusConflict, "ledger invariant violated")
	ErrDuplicatePayment   = New("DUPLICATE_PAYMENT", http.StatusConflict, "payment event already processed")
	ErrRolloverAborted    = New("ROLLOVER_ABORTED", http.StatusUnprocessableEntity, "session rollover aborted")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)
