// internal/apperr/apperr.go
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for callers. Handlers translate it into a status code.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindInvalid
	KindRateLimited
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error carries a Kind plus a short reason string that is safe to show to clients.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(k Kind, reason string) error { return &Error{Kind: k, Reason: reason} }

func Unauthenticated(reason string) error { return newErr(KindUnauthenticated, reason) }
func Forbidden(reason string) error       { return newErr(KindForbidden, reason) }
func NotFound(reason string) error        { return newErr(KindNotFound, reason) }
func Conflict(reason string) error        { return newErr(KindConflict, reason) }
func Invalid(reason string) error         { return newErr(KindInvalid, reason) }
func RateLimited(reason string) error     { return newErr(KindRateLimited, reason) }

// Transient wraps a failure of a best-effort side channel (broker publish).
func Transient(reason string, err error) error {
	return &Error{Kind: KindTransient, Reason: reason, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// ReasonOf returns the client facing reason. Internal errors are masked.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Reason
	}
	return "internal error"
}

// HTTPStatus maps err onto a response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalid:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
