// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/sentinel-iam/sentinel-iam/internal/shared"
)

// ErrDuplicate indicates a unique-constraint conflict surfaced by a repository.
var ErrDuplicate = errors.New("duplicate entry")

// RespondError maps core error kinds to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, "unauthenticated", "Authentication required.")
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "invalid_credentials", "Invalid credentials.")
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "forbidden", "Not authorized.")
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "duplicate", err.Error())
	default:
		// Storage faults and anything unexpected; detail stays internal.
		Problem(w, http.StatusInternalServerError, "internal_error", "")
	}
}
