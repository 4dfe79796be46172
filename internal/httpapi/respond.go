package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"qms/clinic-queue/internal/queue"
	"qms/clinic-queue/internal/store"

	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

// decodeOptional accepts an empty body as the zero value.
func decodeOptional(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrInvalidAction):
		return http.StatusBadRequest, "invalid_action", "Invalid action"
	case errors.Is(err, queue.ErrInvalidMinutes):
		return http.StatusBadRequest, "invalid_minutes", "Invalid minutes value"
	case errors.Is(err, queue.ErrInvalidUser):
		return http.StatusBadRequest, "invalid_user", "user id is required"
	case errors.Is(err, queue.ErrInvalidDate):
		return http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD"
	case errors.Is(err, queue.ErrInvalidPage):
		return http.StatusBadRequest, "invalid_page", "page must be a positive integer"
	case errors.Is(err, queue.ErrInvalidNumber):
		return http.StatusBadRequest, "invalid_examination_number", "examination number is required"
	case errors.Is(err, queue.ErrReservationsClosed):
		return http.StatusConflict, "reservations_closed", "reservations are closed"
	case errors.Is(err, queue.ErrServedRowTrim):
		return http.StatusConflict, "served_row", "the highest queue number has already been served"
	case errors.Is(err, queue.ErrTicketedRowTrim):
		return http.StatusConflict, "ticketed_row", "the highest queue number is held by a ticket"
	case errors.Is(err, queue.ErrNoTicket):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrQueueRowNotFound):
		return http.StatusNotFound, "queue_row_not_found", "queue number not found"
	case errors.Is(err, store.ErrClosedDayNotFound):
		return http.StatusNotFound, "closed_day_not_found", "closed day not found"
	case errors.Is(err, store.ErrFollowerNotFound):
		return http.StatusNotFound, "follower_not_found", "follower not found"
	case errors.Is(err, store.ErrSettingNotFound):
		return http.StatusNotFound, "setting_not_found", "setting not found"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: middleware.GetReqID(r.Context()),
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
