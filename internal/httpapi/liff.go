package httpapi

import (
	"context"
	"errors"
	"net/http"

	"qms/clinic-queue/internal/liff"
	"qms/clinic-queue/internal/notify"
	"qms/clinic-queue/internal/queue"
)

func (h *Handler) liffAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token := liff.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid Authorization header")
			return
		}
		if h.verifier == nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid access token")
			return
		}
		profile, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, liff.ErrInvalidToken) || errors.Is(err, liff.ErrMissingToken) {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "Invalid access token")
				return
			}
			h.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(liff.WithProfile(r.Context(), profile)))
	})
}

func requestProfile(r *http.Request) liff.Profile {
	profile, _ := liff.ProfileFromContext(r.Context())
	return profile
}

type ownExaminationNumberResponse struct {
	ExaminationNumber *string `json:"examination_number"`
}

func (h *Handler) handleGetOwnExaminationNumber(w http.ResponseWriter, r *http.Request) {
	number, err := h.service.ExaminationNumber(r.Context(), requestProfile(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ownExaminationNumberResponse{ExaminationNumber: number})
}

func (h *Handler) handleSetOwnExaminationNumber(w http.ResponseWriter, r *http.Request) {
	profile := requestProfile(r)
	var req examinationNumberRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if err := h.service.SetExaminationNumber(r.Context(), profile.UserID, profile.DisplayName, req.ExaminationNumber); err != nil {
		h.fail(w, r, err)
		return
	}
	h.announceExaminationNumber(profile.DisplayName, req.ExaminationNumber)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Examination number updated"})
}

func (h *Handler) announceExaminationNumber(displayName, number string) {
	if h.reporter == nil {
		return
	}
	if displayName == "" {
		displayName = queue.DefaultDisplayName
	}
	message := notify.ExaminationNumberMessage(displayName, number)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
		defer cancel()
		if err := h.reporter.Announce(ctx, message); err != nil {
			h.logger.Warn("examination number announcement failed", "error", err)
		}
	}()
}

type ownTicketNumberResponse struct {
	TicketNumber *int `json:"ticket_number"`
}

func (h *Handler) handleOwnTicketNumber(w http.ResponseWriter, r *http.Request) {
	number, err := h.service.TicketNumber(r.Context(), requestProfile(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ownTicketNumberResponse{TicketNumber: number})
}

type waitingTimeResponse struct {
	TicketNumber           *int    `json:"ticketNumber"`
	CurrentTreatment       int     `json:"currentTreatment"`
	AverageExaminationTime float64 `json:"averageExaminationTime"`
	Ahead                  int     `json:"ahead"`
	EstimatedWaitMinutes   int     `json:"estimatedWaitMinutes"`
}

// handleWaitingTimeInfo reports a null ticket with the live counters for
// users who have not drawn a number yet.
func (h *Handler) handleWaitingTimeInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.MyWaitTime(r.Context(), requestProfile(r).UserID)
	if errors.Is(err, queue.ErrNoTicket) {
		status, statusErr := h.service.RequestStatus(r.Context())
		if statusErr != nil {
			h.fail(w, r, statusErr)
			return
		}
		writeJSON(w, http.StatusOK, waitingTimeResponse{
			CurrentTreatment:       status.Treatment,
			AverageExaminationTime: status.AverageMinutes,
		})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	number := info.Ticket.TicketNumber
	writeJSON(w, http.StatusOK, waitingTimeResponse{
		TicketNumber:           &number,
		CurrentTreatment:       info.Treatment,
		AverageExaminationTime: info.AverageMinutes,
		Ahead:                  info.Ahead,
		EstimatedWaitMinutes:   info.Estimate.Minutes,
	})
}
