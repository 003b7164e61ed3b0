// Package apperr defines the error kinds shared by every engine. Package level
// errors wrap exactly one kind so callers can classify with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation marks malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks banned users and non-admin callers of admin operations.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict marks operations that already happened or are no longer valid.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks unknown users, rounds, deposits or participants.
	ErrNotFound = errors.New("not found")
)

// Retryable reports whether err is a transient failure worth retrying on the
// next scheduler cycle.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	for _, kind := range []error{ErrValidation, ErrForbidden, ErrConflict, ErrNotFound} {
		if errors.Is(err, kind) {
			return false
		}
	}
	return true
}

// HTTPStatus maps an error kind onto a response code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
