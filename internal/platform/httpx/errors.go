// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// ErrMalformedBody is returned when a request body is not valid JSON.
var ErrMalformedBody = errors.New("malformed request body")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrInvalidStateTransition):
		Problem(w, http.StatusConflict, "Invalid State Transition", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		JSON(w, http.StatusUnprocessableEntity, ProblemDetail{
			Title:      "Insufficient Stock",
			Status:     http.StatusUnprocessableEntity,
			Detail:     err.Error(),
			Shortfalls: shortfalls([]error{err}),
		})
	case errors.Is(err, shared.ErrInvalidDiscount):
		Problem(w, http.StatusUnprocessableEntity, "Invalid Discount", err.Error())
	case errors.Is(err, shared.ErrInvalidPayment):
		Problem(w, http.StatusUnprocessableEntity, "Invalid Payment", err.Error())
	case errors.Is(err, shared.ErrValidation), errors.Is(err, ErrMalformedBody):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// RespondErrors reports a list of business errors in one 422 response. Stock
// shortfalls are also listed with their quantities.
func RespondErrors(w http.ResponseWriter, title string, errs []error) {
	details := make([]string, 0, len(errs))
	for _, err := range errs {
		details = append(details, err.Error())
	}
	JSON(w, http.StatusUnprocessableEntity, ProblemDetail{
		Title:      title,
		Status:     http.StatusUnprocessableEntity,
		Errors:     details,
		Shortfalls: shortfalls(errs),
	})
}

func shortfalls(errs []error) []StockShortfall {
	var out []StockShortfall
	for _, err := range errs {
		var stockErr *shared.InsufficientStockError
		if !errors.As(err, &stockErr) {
			continue
		}
		out = append(out, StockShortfall{
			Product:   stockErr.Product,
			Channel:   stockErr.Channel,
			BatchID:   stockErr.BatchID,
			Requested: stockErr.Requested,
			Available: stockErr.Available,
			Shortfall: stockErr.Shortfall(),
		})
	}
	return out
}
