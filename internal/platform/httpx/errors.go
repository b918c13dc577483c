// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/larder-scm/larder-scm/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Authorization, state-precondition, insufficiency, validation and not-found
// failures each map to a distinct, machine-checkable problem response.
func RespondError(w http.ResponseWriter, err error) {
	var stateErr *shared.StateError
	var insuffErr *shared.InsufficiencyError
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.As(err, &stateErr):
		Problem(w, http.StatusConflict, "Invalid State", stateErr.Error())
	case errors.As(err, &insuffErr):
		JSON(w, http.StatusUnprocessableEntity, ProblemDetail{
			Title:      "Insufficient Stock",
			Status:     http.StatusUnprocessableEntity,
			Detail:     insuffErr.Error(),
			Shortfalls: insuffErr.Shortfalls,
		})
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
