// Package apperr carries the error kinds surfaced to API callers and their
// HTTP mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Kind string

const (
	KindInternal            Kind = "INTERNAL"
	KindValidation          Kind = "VALIDATION"
	KindNotFound            Kind = "NOT_FOUND"
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"
	KindEmptyResponse       Kind = "EMPTY_RESPONSE"
)

type FieldError struct {
	Field   string
	Message string
}

type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError

	// Retryable is only meaningful for KindProviderUnavailable.
	Retryable  bool
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// Field is shorthand for a single-field validation failure.
func Field(field, msg string) *Error {
	return Validation(FieldError{Field: field, Message: msg})
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func ProviderUnavailable(err error, retryable bool, retryAfter time.Duration) *Error {
	msg := "model provider unavailable"
	if retryable {
		msg = "model provider limit exceeded, retry later"
	}
	return &Error{
		Kind:       KindProviderUnavailable,
		Message:    msg,
		Retryable:  retryable,
		RetryAfter: retryAfter,
		Err:        err,
	}
}

func EmptyResponse() *Error {
	return &Error{Kind: KindEmptyResponse, Message: "model returned an empty response"}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", Err: err}
}

// As returns the *Error in err's chain, wrapping anything else as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps an error to the status returned to API callers.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindProviderUnavailable:
		if e.Retryable {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	case KindEmptyResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code is the numeric code placed in the response envelope.
func (e *Error) Code() int {
	switch e.Kind {
	case KindValidation:
		return 10001
	case KindNotFound:
		return 40401
	case KindProviderUnavailable:
		if e.Retryable {
			return 42901
		}
		return 50201
	case KindEmptyResponse:
		return 50202
	default:
		return 50001
	}
}

// PublicMessage never includes the wrapped cause.
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal {
		return "internal server error"
	}
	return e.Message
}
