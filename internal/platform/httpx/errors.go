// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

var debugErrors atomic.Bool

// SetDebug controls whether 500 responses include the underlying error text.
func SetDebug(enabled bool) {
	debugErrors.Store(enabled)
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var stockErr *shared.InsufficientStockError
	var overErr *shared.OverReturnError
	switch {
	case errors.As(err, &stockErr):
		WriteProblem(w, ProblemDetail{
			Type:      "insufficient-stock",
			Title:     "Insufficient Stock",
			Status:    http.StatusBadRequest,
			Detail:    err.Error(),
			Available: &stockErr.Available,
			Requested: &stockErr.Requested,
		})
	case errors.As(err, &overErr):
		WriteProblem(w, ProblemDetail{
			Type:        "over-return",
			Title:       "Over Return",
			Status:      http.StatusBadRequest,
			Detail:      err.Error(),
			Outstanding: &overErr.Outstanding,
			Requested:   &overErr.Requested,
		})
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials), errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		slog.Error("unhandled request error", slog.Any("error", err))
		detail := ""
		if debugErrors.Load() {
			detail = err.Error()
		}
		Problem(w, http.StatusInternalServerError, "Internal Error", detail)
	}
}
