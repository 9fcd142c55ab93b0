// Package apperr defines the error taxonomy shared by services and transport.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeProductUnavailable Code = "PRODUCT_UNAVAILABLE"
	CodeInsufficientStock  Code = "INSUFFICIENT_STOCK"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternal           Code = "INTERNAL_ERROR"
)

type Metadata struct {
	HTTPStatus    int
	PublicMessage string
	// Expose tells transport whether the message and details may reach the caller.
	Expose bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:         {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", Expose: true},
	CodeUnauthenticated:    {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required", Expose: true},
	CodeForbidden:          {HTTPStatus: http.StatusForbidden, PublicMessage: "insufficient permissions", Expose: true},
	CodeNotFound:           {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", Expose: true},
	CodeConflict:           {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected", Expose: true},
	CodeProductUnavailable: {HTTPStatus: http.StatusConflict, PublicMessage: "product unavailable", Expose: true},
	CodeInsufficientStock:  {HTTPStatus: http.StatusConflict, PublicMessage: "insufficient stock", Expose: true},
	CodeInvalidState:       {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", Expose: true},
	CodeRateLimited:        {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded", Expose: true},
	CodeInternal:           {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error", Expose: false},
}

// MetadataFor returns the transport metadata for code, defaulting to internal.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details map[string]any
	cause   error
}

// New creates an error with code and message.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an error with code that keeps err as its cause.
func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() map[string]any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetail attaches a key/value that is surfaced to the caller.
func (e *Error) WithDetail(key string, value any) *Error {
	if e == nil {
		return nil
	}
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As extracts the *Error from err's chain.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the taxonomy code for err; unknown errors are internal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsConflict covers every conflict-class code the caller may retry after refreshing.
func IsConflict(err error) bool {
	switch CodeOf(err) {
	case CodeConflict, CodeProductUnavailable, CodeInsufficientStock:
		return err != nil
	}
	return false
}
