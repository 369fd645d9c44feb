// Package domain defines the error taxonomy shared by every component.
//
// Components raise these sentinels (usually wrapped with %w and a reason) at
// the point of detection; they propagate unchanged through every layer and are
// translated to an HTTP status exactly once, at the boundary. Remote clients
// perform the inverse translation so a federated call surfaces the same
// sentinel the remote component raised.
package domain

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidToken       = errors.New("invalid token")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrBadRequest         = errors.New("bad request")
	ErrInternal           = errors.New("internal error")
)

// IsNotFound reports whether err wraps ErrNotFound. Call sites that treat
// absence as a normal outcome read better with this than with errors.Is.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Status maps a domain error to its HTTP status. Unrecognized errors map to
// 500 so unexpected failures never leak detail as a client error category.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPreconditionFailed):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus maps an HTTP status observed on a federated call back to the
// sentinel the remote component raised.
func FromStatus(code int) error {
	switch code {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	case http.StatusBadRequest:
		return ErrBadRequest
	default:
		return ErrInternal
	}
}
