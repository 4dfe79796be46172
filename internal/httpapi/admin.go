package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qms/clinic-queue/internal/models"
	"qms/clinic-queue/internal/queue"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	counters, err := h.service.Counters(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

func (h *Handler) handleAdvanceWaiting(w http.ResponseWriter, r *http.Request) {
	delta, err := queue.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	waiting, err := h.service.AdvanceWaiting(r.Context(), delta)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Waiting updated", Value: waiting})
}

type treatmentResponse struct {
	Message  string   `json:"message"`
	Value    int      `json:"value"`
	Notified []string `json:"notified"`
}

func (h *Handler) handleAdvanceTreatment(w http.ResponseWriter, r *http.Request) {
	delta, err := queue.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.AdvanceTreatment(r.Context(), delta)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, treatmentResponse{
		Message:  "Treatment updated",
		Value:    result.Treatment,
		Notified: nonNilStrings(result.Notified),
	})
}

type statusResponse struct {
	Message string              `json:"message,omitempty"`
	Value   models.SystemStatus `json:"value"`
}

func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.SystemStatus(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Value: status})
}

func (h *Handler) handleToggleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.ToggleStatus(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Message: "Status updated", Value: status})
}

func (h *Handler) handleResetAll(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResetAll(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Reset successful"})
}

func (h *Handler) handleResetCounters(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResetCounters(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Counter reset successful"})
}

func (h *Handler) handleResetTickets(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResetTickets(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Tickets reset successful"})
}

func (h *Handler) handleResetLedger(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResetLedger(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Queue status reset successfully"})
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Ledger(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []models.QueueStatusRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleUnserved(w http.ResponseWriter, r *http.Request) {
	numbers, err := h.service.UnservedNumbers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if numbers == nil {
		numbers = []int{}
	}
	writeJSON(w, http.StatusOK, numbers)
}

type markServedRequest struct {
	Status *int `json:"status"`
}

type markServedResponse struct {
	Success   bool     `json:"success"`
	Treatment int      `json:"treatment"`
	Notified  []string `json:"notified"`
}

func (h *Handler) handleMarkServed(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number < 1 {
		writeError(w, r, http.StatusBadRequest, "invalid_number", "queue number must be a positive integer")
		return
	}
	var req markServedRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Status == nil || (*req.Status != 0 && *req.Status != 1) {
		writeError(w, r, http.StatusBadRequest, "invalid_status", "status must be 0 or 1")
		return
	}
	result, err := h.service.MarkServed(r.Context(), number, *req.Status == 1)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markServedResponse{
		Success:   true,
		Treatment: result.Treatment,
		Notified:  nonNilStrings(result.Notified),
	})
}

type examinationTimeRequest struct {
	Minutes float64 `json:"minutes"`
}

func (h *Handler) handleGetExaminationTime(w http.ResponseWriter, r *http.Request) {
	minutes, err := h.service.ExaminationMinutes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, examinationTimeRequest{Minutes: minutes})
}

func (h *Handler) handleSetExaminationTime(w http.ResponseWriter, r *http.Request) {
	var req examinationTimeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.service.SetExaminationMinutes(r.Context(), req.Minutes); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Examination time updated successfully", Value: req.Minutes})
}

func (h *Handler) handleLineInfo(w http.ResponseWriter, r *http.Request) {
	holders, err := h.service.TicketHolders(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if holders == nil {
		holders = []models.TicketHolder{}
	}
	writeJSON(w, http.StatusOK, holders)
}

type examinationNumberRequest struct {
	ExaminationNumber string `json:"examinationNumber"`
}

func (h *Handler) handleAdminExaminationNumber(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	var req examinationNumberRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.service.SetExaminationNumber(r.Context(), userID, "", req.ExaminationNumber); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Examination number updated"})
}

type archiveResponse struct {
	Message  string `json:"message"`
	Archived int    `json:"archived"`
}

func (h *Handler) handleArchiveTickets(w http.ResponseWriter, r *http.Request) {
	archived, err := h.service.ArchiveTickets(r.Context(), h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	message := "Data inserted successfully"
	if archived == 0 {
		message = "No new data to insert"
	}
	writeJSON(w, http.StatusOK, archiveResponse{Message: message, Archived: archived})
}

func (h *Handler) handleTicketSummary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.TicketSummary(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if rows == nil {
		rows = []models.TicketSummary{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleTicketSummaryPage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		h.fail(w, r, queue.ErrInvalidPage)
		return
	}
	result, err := h.service.TicketSummaryPage(r.Context(), chi.URLParam(r, "date"), page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListClosedDays(w http.ResponseWriter, r *http.Request) {
	days, err := h.service.ClosedDays(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if days == nil {
		days = []models.ClosedDay{}
	}
	writeJSON(w, http.StatusOK, days)
}

type closedDayRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

func (h *Handler) handleAddClosedDay(w http.ResponseWriter, r *http.Request) {
	var req closedDayRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	day, err := h.service.AddClosedDay(r.Context(), req.Date, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, day)
}

func (h *Handler) handleRemoveClosedDay(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveClosedDay(r.Context(), chi.URLParam(r, "date")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Closed day removed"})
}

func (h *Handler) handleSundayClinics(w http.ResponseWriter, r *http.Request) {
	dates, err := h.service.SundayClinics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilStrings(dates))
}

type triggerRequest struct {
	TestDate string `json:"test_date"`
}

func (h *Handler) handleTriggerSundayClinics(w http.ResponseWriter, r *http.Request) {
	at, ok := h.triggerTime(w, r)
	if !ok {
		return
	}
	dates, err := h.service.RefreshSundayClinics(r.Context(), at)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Sunday clinics updated", Value: nonNilStrings(dates)})
}

func (h *Handler) handleTriggerSystemOn(w http.ResponseWriter, r *http.Request) {
	at, ok := h.triggerTime(w, r)
	if !ok {
		return
	}
	opened, err := h.service.AutoOpenIfScheduled(r.Context(), at)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !opened {
		writeJSON(w, http.StatusOK, messageResponse{Message: "No action taken."})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "System status updated to reserve (0)."})
}

// triggerTime reads the optional test_date override; an absent one means now.
func (h *Handler) triggerTime(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	var req triggerRequest
	if !decodeOptional(w, r, &req) {
		return time.Time{}, false
	}
	if strings.TrimSpace(req.TestDate) == "" {
		return h.now().In(h.service.Location()), true
	}
	at, err := parseTestDate(req.TestDate, h.service.Location())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_test_date", "test_date must be an ISO date or datetime")
		return time.Time{}, false
	}
	return at, true
}

var testDateLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	models.DateLayout,
}

func parseTestDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		return at.In(loc), nil
	}
	for _, layout := range testDateLayouts {
		if at, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return at, nil
		}
	}
	return time.Time{}, errors.New("unrecognized test date")
}

func (h *Handler) handleFrontendError(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if !decodeRequest(w, r, &payload) {
		return
	}
	if h.reporter != nil {
		h.reporter.ReportAsync("frontend", errors.New("Frontend error: "+string(payload)))
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Frontend error reported"})
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
