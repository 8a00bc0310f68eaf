// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/garmentflow/garmentflow/internal/shared"
)

// RespondError maps domain errors to HTTP responses. Unexpected errors are logged and
// answered with a generic message.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		Error(w, http.StatusBadRequest, err.Error(), shared.DetailsOf(err))
	case errors.Is(err, shared.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, shared.ErrUnauthorized):
		Error(w, http.StatusUnauthorized, err.Error(), nil)
	case errors.Is(err, shared.ErrForbidden):
		Error(w, http.StatusForbidden, err.Error(), nil)
	default:
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("unexpected error", slog.Any("error", err))
		Error(w, http.StatusInternalServerError, "internal server error", nil)
	}
}
