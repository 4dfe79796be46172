package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"qms/clinic-queue/internal/models"
	"qms/clinic-queue/internal/schedule"
	"qms/clinic-queue/internal/store"
)

// ParseDate validates a YYYY-MM-DD date in the clinic's zone.
func (s *Service) ParseDate(raw string) (time.Time, error) {
	day, err := time.ParseInLocation(models.DateLayout, strings.TrimSpace(raw), s.loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return day, nil
}

func (s *Service) ClosedDays(ctx context.Context) ([]models.ClosedDay, error) {
	return s.store.ListClosedDays(ctx)
}

func (s *Service) AddClosedDay(ctx context.Context, date, reason string) (models.ClosedDay, error) {
	day, err := s.ParseDate(date)
	if err != nil {
		return models.ClosedDay{}, err
	}
	closed := models.ClosedDay{Date: day.Format(models.DateLayout), Reason: strings.TrimSpace(reason)}
	if err := s.store.AddClosedDay(ctx, closed); err != nil {
		return models.ClosedDay{}, fmt.Errorf("add closed day: %w", err)
	}
	return closed, nil
}

func (s *Service) RemoveClosedDay(ctx context.Context, date string) error {
	day, err := s.ParseDate(date)
	if err != nil {
		return err
	}
	return s.store.RemoveClosedDay(ctx, day.Format(models.DateLayout))
}

func (s *Service) SundayClinics(ctx context.Context) ([]string, error) {
	return s.store.ListSundayClinics(ctx)
}

// RefreshSundayClinics recomputes the next open Sundays from now and
// replaces the cached list atomically.
func (s *Service) RefreshSundayClinics(ctx context.Context, now time.Time) (dates []string, err error) {
	ctx, done := s.trace(ctx, "refresh_sunday_clinics")
	defer func() { done(err) }()

	err = s.store.WithTx(ctx, func(q store.Queries) error {
		days, err := q.ListClosedDays(ctx)
		if err != nil {
			return err
		}
		dates = schedule.NextSundayClinics(now.In(s.loc), schedule.NewClosedDays(days), schedule.SundayClinicCount, schedule.SundayLookaheadLimit)
		return q.ReplaceSundayClinics(ctx, dates)
	})
	if err != nil {
		return nil, fmt.Errorf("refresh sunday clinics: %w", err)
	}
	return dates, nil
}
