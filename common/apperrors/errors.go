package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping and retry decisions
type Kind string

const (
	KindValidation      Kind = "validation"
	KindAuthentication  Kind = "authentication"
	KindAuthorization   Kind = "authorization"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindRateLimited     Kind = "rate_limited"
	KindPayloadTooLarge Kind = "payload_too_large"
	KindUnavailable     Kind = "unavailable"
	KindGatewayTimeout  Kind = "gateway_timeout"
	KindInternal        Kind = "internal"
)

// Error carries a taxonomy kind plus a stable, user-visible detail string.
// Detail strings never include stack traces; the wrapped cause is for logs only.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an error of the given kind
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap classifies an underlying cause with a kind and user-visible detail
func Wrap(cause error, kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// KindOf extracts the taxonomy kind from an error chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf extracts the user-visible detail from an error chain
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return "internal error"
}

// HTTPStatus maps an error kind to its HTTP status code
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsTransient reports whether the runner may retry the operation.
// Quota denials and validation failures are permanent.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindUnavailable, KindGatewayTimeout, KindRateLimited, KindInternal:
		return true
	default:
		return false
	}
}
