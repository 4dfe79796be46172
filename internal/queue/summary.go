package queue

import (
	"context"
	"fmt"
	"time"

	"qms/clinic-queue/internal/models"
	"qms/clinic-queue/internal/store"
)

const SummaryPageSize = 10

type SummaryPage struct {
	Results    []models.TicketSummary `json:"results"`
	Total      int                    `json:"total"`
	Page       int                    `json:"page"`
	TotalPages int                    `json:"totalPages"`
}

// ArchiveTickets copies the cycle's tickets into the daily summary.
func (s *Service) ArchiveTickets(ctx context.Context, now time.Time) (archived int, err error) {
	ctx, done := s.trace(ctx, "archive_tickets")
	defer func() { done(err) }()

	archived, err = s.store.ArchiveTickets(ctx, now.In(s.loc).Format(models.DateLayout))
	if err != nil {
		return 0, fmt.Errorf("archive tickets: %w", err)
	}
	return archived, nil
}

// CloseDay archives the day's tickets and resets the cycle in one
// transaction.
func (s *Service) CloseDay(ctx context.Context, now time.Time) (archived int, err error) {
	ctx, done := s.trace(ctx, "close_day")
	defer func() { done(err) }()

	date := now.In(s.loc).Format(models.DateLayout)
	err = s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		archived, err = q.ArchiveTickets(ctx, date)
		if err != nil {
			return err
		}
		return resetCycle(ctx, q)
	})
	if err != nil {
		return 0, fmt.Errorf("close day: %w", err)
	}
	s.logger.Info("day closed", "date", date, "archived", archived)
	s.publish(ctx)
	return archived, nil
}

func (s *Service) TicketSummary(ctx context.Context) ([]models.TicketSummary, error) {
	return s.store.ListTicketSummary(ctx)
}

func (s *Service) TicketSummaryPage(ctx context.Context, date string, page int) (SummaryPage, error) {
	day, err := s.ParseDate(date)
	if err != nil {
		return SummaryPage{}, err
	}
	if page < 1 {
		return SummaryPage{}, ErrInvalidPage
	}
	results, total, err := s.store.ListTicketSummaryByDate(ctx, day.Format(models.DateLayout), SummaryPageSize, (page-1)*SummaryPageSize)
	if err != nil {
		return SummaryPage{}, fmt.Errorf("list ticket summary: %w", err)
	}
	if results == nil {
		results = []models.TicketSummary{}
	}
	return SummaryPage{
		Results:    results,
		Total:      total,
		Page:       page,
		TotalPages: (total + SummaryPageSize - 1) / SummaryPageSize,
	}, nil
}
