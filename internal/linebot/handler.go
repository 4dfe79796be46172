// Package linebot serves the LINE webhook: it verifies deliveries, drops
// redelivered events and turns chat commands into queue operations.
package linebot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"qms/clinic-queue/internal/dedup"
	"qms/clinic-queue/internal/metrics"
	"qms/clinic-queue/internal/queue"
	"qms/clinic-queue/pkg/logging"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"
)

type ErrorReporter interface {
	ReportAsync(where string, err error)
}

type Options struct {
	Dedup      dedup.Deduper
	Reporter   ErrorReporter
	Metrics    *metrics.WebhookMetrics
	Logger     *logging.Logger
	InquiryURL string
}

type Handler struct {
	secret     string
	service    *queue.Service
	messenger  Messenger
	dedup      dedup.Deduper
	reporter   ErrorReporter
	metrics    *metrics.WebhookMetrics
	logger     *logging.Logger
	inquiryURL string
}

func NewHandler(secret string, service *queue.Service, messenger Messenger, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		secret:     secret,
		service:    service,
		messenger:  messenger,
		dedup:      options.Dedup,
		reporter:   options.Reporter,
		metrics:    options.Metrics,
		logger:     logger.With("component", "webhook"),
		inquiryURL: strings.TrimSpace(options.InquiryURL),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cb, err := webhook.ParseRequest(h.secret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid signature."})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid webhook payload"})
		return
	}

	for _, event := range cb.Events {
		h.dispatch(r.Context(), event)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func (h *Handler) dispatch(ctx context.Context, event webhook.EventInterface) {
	var (
		eventType string
		eventID   string
		handle    func(context.Context) error
	)
	switch e := event.(type) {
	case webhook.MessageEvent:
		eventType, eventID = "message", e.WebhookEventId
		text, ok := e.Message.(webhook.TextMessageContent)
		if !ok {
			h.metrics.ObserveEvent(eventType, "ignored")
			return
		}
		userID := sourceUserID(e.Source)
		handle = func(ctx context.Context) error {
			return h.handleText(ctx, e.ReplyToken, userID, text.Text)
		}
	case webhook.FollowEvent:
		eventType, eventID = "follow", e.WebhookEventId
		userID := sourceUserID(e.Source)
		handle = func(ctx context.Context) error {
			return h.handleFollow(ctx, userID)
		}
	default:
		h.metrics.ObserveEvent("other", "ignored")
		return
	}

	claimed := false
	if h.dedup != nil {
		seen, err := h.dedup.Seen(ctx, eventID)
		if err != nil {
			h.logger.Warn("dedup lookup failed", "event_id", eventID, "error", err)
		} else if seen {
			h.logger.Debug("duplicate event dropped", "event_id", eventID)
			h.metrics.ObserveEvent(eventType, "duplicate")
			return
		} else {
			claimed = true
		}
	}

	if err := handle(ctx); err != nil {
		// Release the claim so a redelivery is handled again.
		if claimed {
			if forgetErr := h.dedup.Forget(ctx, eventID); forgetErr != nil {
				h.logger.Warn("dedup release failed", "event_id", eventID, "error", forgetErr)
			}
		}
		h.logger.Error("webhook event failed", "event_type", eventType, "event_id", eventID, "error", err)
		h.metrics.ObserveEvent(eventType, "error")
		if h.reporter != nil {
			h.reporter.ReportAsync("webhook "+eventType, err)
		}
		return
	}
	h.metrics.ObserveEvent(eventType, "ok")
}

func (h *Handler) handleFollow(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return h.service.RecordFollower(ctx, userID, h.displayName(ctx, userID))
}

func (h *Handler) handleText(ctx context.Context, replyToken, userID, text string) error {
	switch text {
	case CommandStatus:
		status, err := h.service.RequestStatus(ctx)
		if err != nil {
			return err
		}
		sundays, err := h.service.SundayClinics(ctx)
		if err != nil {
			return err
		}
		return h.messenger.Reply(ctx, replyToken, StatusText(status, sundays))

	case CommandPreview:
		status, err := h.service.RequestStatus(ctx)
		if err != nil {
			return err
		}
		if !status.SystemStatus.Open() {
			return h.replyHours(ctx, replyToken)
		}
		return h.messenger.Reply(ctx, replyToken, PreviewText(status))

	case CommandIssue:
		if userID == "" {
			return nil
		}
		result, err := h.service.IssueTicket(ctx, userID, h.displayName(ctx, userID))
		if errors.Is(err, queue.ErrReservationsClosed) {
			return h.replyHours(ctx, replyToken)
		}
		if err != nil {
			return err
		}
		if !result.Created {
			return h.messenger.Reply(ctx, replyToken, AlreadyIssuedText, ConfirmationText(result.Ticket.TicketNumber))
		}
		var texts []string
		if h.inquiryURL != "" {
			texts = append(texts, h.inquiryURL)
		}
		texts = append(texts, ConfirmationText(result.Ticket.TicketNumber))
		return h.messenger.Reply(ctx, replyToken, texts...)

	case CommandCancel:
		return h.messenger.Reply(ctx, replyToken, CancelText)

	case CommandWaitTime:
		info, err := h.service.MyWaitTime(ctx, userID)
		if errors.Is(err, queue.ErrNoTicket) {
			return h.messenger.Reply(ctx, replyToken, NoTicketText)
		}
		if err != nil {
			return err
		}
		return h.messenger.Reply(ctx, replyToken, WaitText(info))

	case CommandUnservedAll:
		numbers, err := h.service.UnservedNumbers(ctx)
		if err != nil {
			return err
		}
		return h.messenger.Reply(ctx, replyToken, UnservedText(numbers))
	}
	return nil
}

func (h *Handler) replyHours(ctx context.Context, replyToken string) error {
	sundays, err := h.service.SundayClinics(ctx)
	if err != nil {
		return err
	}
	return h.messenger.Reply(ctx, replyToken, HoursText(sundays))
}

// displayName falls back to the default name when the profile lookup fails.
func (h *Handler) displayName(ctx context.Context, userID string) string {
	name, err := h.messenger.DisplayName(ctx, userID)
	if err != nil {
		h.logger.Warn("profile lookup failed", "user_id", userID, "error", err)
		return queue.DefaultDisplayName
	}
	if strings.TrimSpace(name) == "" {
		return queue.DefaultDisplayName
	}
	return name
}

func sourceUserID(source webhook.SourceInterface) string {
	switch s := source.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
