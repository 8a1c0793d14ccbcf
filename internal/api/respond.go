package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/storefront-checkout/internal/checkout"
	"github.com/rs/zerolog"
)

// StatusClientClosedRequest is reported when the caller abandoned the request.
const StatusClientClosedRequest = 499

type ErrorResponse struct {
	ErrorKind checkout.Kind          `json:"error_kind"`
	Message   string                 `json:"message"`
	Details   []checkout.ItemFailure `json:"details,omitempty"`
	Reasons   []string               `json:"reasons,omitempty"`
	Retryable bool                   `json:"retryable"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, kind checkout.Kind, message string) {
	respondJSON(w, status, ErrorResponse{ErrorKind: kind, Message: message})
}

// statusFor maps a checkout failure kind to an HTTP status.
func statusFor(kind checkout.Kind) int {
	switch kind {
	case checkout.KindValidation:
		return http.StatusBadRequest
	case checkout.KindOutOfStock, checkout.KindProductUnavailable, checkout.KindItemsUnavailable:
		return http.StatusConflict
	case checkout.KindConflictRetryExhausted, checkout.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case checkout.KindTransactionTimeout:
		return http.StatusGatewayTimeout
	case checkout.KindRequestCanceled:
		return StatusClientClosedRequest
	}
	return http.StatusInternalServerError
}

// respondCheckoutError writes the structured failure for err.
func respondCheckoutError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	kind := checkout.KindOf(err)
	resp := ErrorResponse{
		ErrorKind: kind,
		Message:   err.Error(),
		Retryable: checkout.Retryable(err),
	}

	var stockErr *checkout.StockError
	var validationErr *checkout.ValidationError
	switch {
	case errors.As(err, &stockErr):
		resp.Details = stockErr.Failures
	case errors.As(err, &validationErr):
		resp.Reasons = validationErr.Reasons
	}

	if kind == checkout.KindInternal {
		logger.Error().Err(err).Msg("unexpected checkout failure")
		resp.Message = "internal error"
	}
	if resp.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	respondJSON(w, statusFor(kind), resp)
}
