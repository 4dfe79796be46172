// Package queue is the clinic's queue state machine. It is the only writer
// of the waiting/treatment registers, the queue_status ledger and the ticket
// registry, and it keeps the three consistent inside store transactions.
package queue

import (
	"context"
	"errors"
	"math"
	"time"

	"qms/clinic-queue/internal/metrics"
	"qms/clinic-queue/internal/models"
	"qms/clinic-queue/internal/store"
	"qms/clinic-queue/pkg/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultExaminationMinutes = 4

// Notifier delivers a push message to a single LINE user.
type Notifier interface {
	Send(ctx context.Context, message, recipient string) error
}

// Publisher receives the queue snapshot after every mutation.
type Publisher interface {
	Publish(ctx context.Context, snapshot Snapshot)
}

type Snapshot struct {
	Waiting   int                 `json:"waiting"`
	Treatment int                 `json:"treatment"`
	Status    models.SystemStatus `json:"status"`
}

type Options struct {
	Location                  *time.Location
	DefaultExaminationMinutes float64
	Notifier                  Notifier
	Publisher                 Publisher
	Metrics                   *metrics.QueueMetrics
	Logger                    *logging.Logger
	Now                       func() time.Time
}

type Service struct {
	store          store.Store
	loc            *time.Location
	defaultMinutes float64
	notifier       Notifier
	publisher      Publisher
	metrics        *metrics.QueueMetrics
	logger         *logging.Logger
	tracer         trace.Tracer
	now            func() time.Time
}

func NewService(st store.Store, options Options) *Service {
	loc := options.Location
	if loc == nil {
		loc = time.UTC
	}
	minutes := options.DefaultExaminationMinutes
	if minutes <= 0 {
		minutes = DefaultExaminationMinutes
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:          st,
		loc:            loc,
		defaultMinutes: minutes,
		notifier:       options.Notifier,
		publisher:      options.Publisher,
		metrics:        options.Metrics,
		logger:         logger.With("component", "queue"),
		tracer:         otel.Tracer("qms/clinic-queue/queue"),
		now:            now,
	}
}

// Location is the clinic's local time zone.
func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) localNow() time.Time {
	return s.now().In(s.loc)
}

func (s *Service) trace(ctx context.Context, command string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "queue."+command, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.ObserveCommand(command, err)
	}
}

// averageMinutes falls back to the configured default when the clinic
// never set an examination time.
func (s *Service) averageMinutes(ctx context.Context, q store.SettingsStore) (float64, error) {
	minutes, err := q.GetExaminationMinutes(ctx)
	if errors.Is(err, store.ErrSettingNotFound) {
		return s.defaultMinutes, nil
	}
	if err != nil {
		return 0, err
	}
	if minutes <= 0 {
		return s.defaultMinutes, nil
	}
	return minutes, nil
}

func (s *Service) publish(ctx context.Context) {
	counters, err := s.store.GetCounters(ctx)
	if err != nil {
		s.logger.Warn("snapshot counters failed", "error", err)
		return
	}
	s.metrics.SetCounters(counters.Waiting, counters.Treatment)
	if s.publisher == nil {
		return
	}
	status, err := s.store.GetSystemStatus(ctx)
	if err != nil {
		s.logger.Warn("snapshot status failed", "error", err)
		return
	}
	s.publisher.Publish(ctx, Snapshot{Waiting: counters.Waiting, Treatment: counters.Treatment, Status: status})
}

func validMinutes(minutes float64) bool {
	return minutes > 0 && !math.IsNaN(minutes) && !math.IsInf(minutes, 0)
}
