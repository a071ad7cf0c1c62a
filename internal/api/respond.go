package api

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/hackgods/petcare-scheduling/internal/appointment"
	"github.com/hackgods/petcare-scheduling/internal/booking"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// describeError maps a domain error to an HTTP status and response body.
func describeError(err error) (int, ErrorResponse) {
	var verr *appointment.ValidationError
	switch {
	case errors.Is(err, errInvalidBody):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid_request_body", Details: "could not parse JSON"}
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "validation_failed", Details: err.Error(), Fields: verr.Fields}
	case errors.Is(err, appointment.ErrProviderNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "provider_not_found", Details: err.Error()}
	case errors.Is(err, appointment.ErrSlotNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "slot_not_found", Details: err.Error()}
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "appointment_not_found", Details: err.Error()}
	case errors.Is(err, booking.ErrSessionNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "session_not_found", Details: err.Error()}
	case errors.Is(err, appointment.ErrSlotConflict):
		return http.StatusConflict, ErrorResponse{Error: "slot_conflict", Details: err.Error()}
	case errors.Is(err, booking.ErrSessionConflict):
		return http.StatusConflict, ErrorResponse{Error: "session_conflict", Details: err.Error()}
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, ErrorResponse{Error: "invalid_transition", Details: err.Error()}
	case errors.Is(err, booking.ErrIdentityRequired):
		return http.StatusUnauthorized, ErrorResponse{Error: "identity_required", Details: err.Error()}
	case errors.Is(err, appointment.ErrReconcilePending):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "reconcile_pending", Details: err.Error()}
	case errors.Is(err, appointment.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "store_unavailable", Details: "storage is temporarily unavailable, please retry"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Details: "internal server error"}
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, body := describeError(err)
	writeJSON(w, status, body)
}
