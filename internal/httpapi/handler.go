// Package httpapi exposes the queue over HTTP: the operator API under /api,
// the mini-app API under /liff, plus the webhook and realtime mounts.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"qms/clinic-queue/internal/liff"
	"qms/clinic-queue/internal/metrics"
	"qms/clinic-queue/internal/queue"
	"qms/clinic-queue/pkg/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const announceTimeout = 10 * time.Second

type ErrorReporter interface {
	ReportAsync(where string, err error)
	Announce(ctx context.Context, message string) error
}

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (liff.Profile, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	KeyAuth        *KeyAuth
	Verifier       TokenVerifier
	Reporter       ErrorReporter
	Webhook        http.Handler
	Realtime       http.Handler
	Health         Pinger
	AllowedOrigins []string
	Limiter        *RateLimiter
	Logger         *logging.Logger
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler
	Now            func() time.Time
}

type Handler struct {
	service        *queue.Service
	keyAuth        *KeyAuth
	verifier       TokenVerifier
	reporter       ErrorReporter
	webhook        http.Handler
	realtime       http.Handler
	health         Pinger
	allowedOrigins []string
	limiter        *RateLimiter
	logger         *logging.Logger
	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler
	now            func() time.Time
}

func NewHandler(service *queue.Service, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	keyAuth := options.KeyAuth
	if keyAuth == nil {
		keyAuth = NewKeyAuth("", "")
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		service:        service,
		keyAuth:        keyAuth,
		verifier:       options.Verifier,
		reporter:       options.Reporter,
		webhook:        options.Webhook,
		realtime:       options.Realtime,
		health:         options.Health,
		allowedOrigins: options.AllowedOrigins,
		limiter:        options.Limiter,
		logger:         logger.With("component", "http"),
		httpMetrics:    options.HTTPMetrics,
		metricsHandler: options.MetricsHandler,
		now:            now,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(h.logger, h.httpMetrics))
	if h.limiter != nil {
		r.Use(h.limiter.Middleware)
	}

	r.Get("/healthz", h.handleHealth)
	if h.metricsHandler != nil {
		r.Handle("/metrics", h.metricsHandler)
	}
	if h.webhook != nil {
		r.Post("/webhook", h.webhook.ServeHTTP)
	}
	if h.realtime != nil {
		r.Handle("/realtime/*", h.realtime)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(CORS(h.allowedOrigins))
		api.Use(h.keyAuth.Middleware)

		api.Get("/treat", h.handleCounters)
		api.Put("/treat/waiting/{action}", h.handleAdvanceWaiting)
		api.Put("/treat/treatment/{action}", h.handleAdvanceTreatment)

		api.Get("/status", h.handleGetStatus)
		api.Put("/status", h.handleToggleStatus)

		api.Delete("/reset", h.handleResetAll)
		api.Put("/reset-counter", h.handleResetCounters)
		api.Delete("/reset-tickets", h.handleResetTickets)
		api.Delete("/reset-queue-status", h.handleResetLedger)

		api.Get("/queue-status", h.handleLedger)
		api.Get("/queue-status/unserved", h.handleUnserved)
		api.Put("/queue-status/{number}", h.handleMarkServed)

		api.Get("/examination-time", h.handleGetExaminationTime)
		api.Put("/examination-time", h.handleSetExaminationTime)

		api.Get("/lineinfo", h.handleLineInfo)
		api.Put("/follow/{userId}/examination-number", h.handleAdminExaminationNumber)

		api.Post("/ticket-summary", h.handleArchiveTickets)
		api.Get("/ticket-summary", h.handleTicketSummary)
		api.Get("/ticket-summary/{date}/{page}", h.handleTicketSummaryPage)

		api.Get("/closed-days", h.handleListClosedDays)
		api.Post("/closed-days", h.handleAddClosedDay)
		api.Delete("/closed-days/{date}", h.handleRemoveClosedDay)

		api.Get("/sunday-clinics", h.handleSundayClinics)
		api.Put("/trigger-sunday-clinics", h.handleTriggerSundayClinics)
		api.Put("/trigger-system-on", h.handleTriggerSystemOn)

		api.Post("/report-frontend-error", h.handleFrontendError)
	})

	r.Route("/liff", func(l chi.Router) {
		l.Use(CORS([]string{"*"}))
		l.Use(h.liffAuth)

		l.Get("/follow/examination-number", h.handleGetOwnExaminationNumber)
		l.Put("/follow/examination-number", h.handleSetOwnExaminationNumber)
		l.Get("/tickets/number", h.handleOwnTicketNumber)
		l.Get("/waiting-time-info", h.handleWaitingTimeInfo)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", "error", err)
			writeError(w, r, http.StatusServiceUnavailable, "unavailable", "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail writes the mapped error; unexpected failures are also reported to
// the operator channel.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		where := r.Method + " " + r.URL.Path
		h.logger.Error("request failed", "route", where, "request_id", middleware.GetReqID(r.Context()), "error", err)
		if h.reporter != nil {
			h.reporter.ReportAsync(where, err)
		}
	}
	writeError(w, r, status, code, message)
}
