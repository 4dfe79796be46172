package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"qms/clinic-queue/internal/models"
	"qms/clinic-queue/internal/schedule"
	"qms/clinic-queue/internal/store"

	"go.opentelemetry.io/otel/attribute"
)

type Status struct {
	Waiting        int                 `json:"waiting"`
	Treatment      int                 `json:"treatment"`
	SystemStatus   models.SystemStatus `json:"status"`
	AverageMinutes float64             `json:"average_examination_minutes"`
	Estimate       Estimate            `json:"estimate"`
}

type IssueResult struct {
	Ticket    models.Ticket `json:"ticket"`
	Created   bool          `json:"created"`
	Treatment int           `json:"treatment"`
	Estimate  Estimate      `json:"estimate"`
}

type WaitInfo struct {
	Ticket         models.Ticket `json:"ticket"`
	Treatment      int           `json:"treatment"`
	AverageMinutes float64       `json:"average_examination_minutes"`
	Ahead          int           `json:"ahead"`
	Estimate       Estimate      `json:"estimate"`
}

type MarkResult struct {
	Treatment int      `json:"treatment"`
	Notified  []string `json:"notified,omitempty"`
}

type pendingNotice struct {
	userID      string
	displayName string
	number      int
}

// RequestStatus reads the registers and projects the wait for the last
// issued number.
func (s *Service) RequestStatus(ctx context.Context) (status Status, err error) {
	ctx, done := s.trace(ctx, "request_status")
	defer func() { done(err) }()

	counters, err := s.store.GetCounters(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read counters: %w", err)
	}
	system, err := s.store.GetSystemStatus(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("read status: %w", err)
	}
	avg, err := s.averageMinutes(ctx, s.store)
	if err != nil {
		return Status{}, fmt.Errorf("read examination time: %w", err)
	}
	return Status{
		Waiting:        counters.Waiting,
		Treatment:      counters.Treatment,
		SystemStatus:   system,
		AverageMinutes: avg,
		Estimate:       EstimateWait(counters.Waiting, counters.Treatment, avg, s.localNow()),
	}, nil
}

// IssueTicket gives userID the next number. A user who already holds a
// ticket gets it back with Created=false, even while reservations are closed.
func (s *Service) IssueTicket(ctx context.Context, userID, displayName string) (result IssueResult, err error) {
	ctx, done := s.trace(ctx, "issue_ticket", attribute.String("user_id", userID))
	defer func() { done(err) }()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return IssueResult{}, ErrInvalidUser
	}
	now := s.localNow()

	err = s.store.WithTx(ctx, func(q store.Queries) error {
		existing, found, err := q.FindTicketByUser(ctx, userID)
		if err != nil {
			return err
		}
		if found {
			result.Ticket = existing
			return nil
		}
		status, err := q.GetSystemStatus(ctx)
		if err != nil {
			return err
		}
		if !status.Open() {
			return ErrReservationsClosed
		}

		waiting, err := q.IncrementCounter(ctx, models.CounterWaiting)
		if err != nil {
			return err
		}
		if err := syncToWaiting(ctx, q, waiting); err != nil {
			return err
		}
		ticket := models.Ticket{
			UserID:       userID,
			DisplayName:  displayName,
			TicketNumber: waiting,
			IssuedAt:     now.Format("15:04"),
			CreatedAt:    now.UTC(),
		}
		inserted, err := q.InsertTicket(ctx, ticket)
		if err != nil {
			return err
		}
		if !inserted {
			return errDuplicateTicket
		}
		result.Ticket = ticket
		result.Created = true
		return nil
	})
	switch {
	case errors.Is(err, errDuplicateTicket):
		existing, found, findErr := s.store.FindTicketByUser(ctx, userID)
		if findErr != nil {
			return IssueResult{}, findErr
		}
		if !found {
			return IssueResult{}, fmt.Errorf("ticket for %s vanished after conflict", userID)
		}
		result = IssueResult{Ticket: existing}
	case errors.Is(err, ErrReservationsClosed):
		s.metrics.ObserveTicket("closed")
		return IssueResult{}, err
	case err != nil:
		return IssueResult{}, fmt.Errorf("issue ticket: %w", err)
	}

	if result.Created {
		s.metrics.ObserveTicket("created")
		s.logger.Info("ticket issued", "user_id", userID, "ticket_number", result.Ticket.TicketNumber)
		s.publish(ctx)
	} else {
		s.metrics.ObserveTicket("existing")
	}

	counters, err := s.store.GetCounters(ctx)
	if err != nil {
		return IssueResult{}, fmt.Errorf("read counters: %w", err)
	}
	avg, err := s.averageMinutes(ctx, s.store)
	if err != nil {
		return IssueResult{}, fmt.Errorf("read examination time: %w", err)
	}
	result.Treatment = counters.Treatment
	result.Estimate = EstimateWait(result.Ticket.TicketNumber, counters.Treatment, avg, now)
	return result, nil
}

// MyWaitTime projects the wait for the caller's own ticket.
func (s *Service) MyWaitTime(ctx context.Context, userID string) (info WaitInfo, err error) {
	ctx, done := s.trace(ctx, "my_wait_time", attribute.String("user_id", userID))
	defer func() { done(err) }()

	ticket, found, err := s.store.FindTicketByUser(ctx, userID)
	if err != nil {
		return WaitInfo{}, fmt.Errorf("find ticket: %w", err)
	}
	if !found {
		return WaitInfo{}, ErrNoTicket
	}
	counters, err := s.store.GetCounters(ctx)
	if err != nil {
		return WaitInfo{}, fmt.Errorf("read counters: %w", err)
	}
	avg, err := s.averageMinutes(ctx, s.store)
	if err != nil {
		return WaitInfo{}, fmt.Errorf("read examination time: %w", err)
	}
	rows, err := s.store.ListQueueRows(ctx)
	if err != nil {
		return WaitInfo{}, fmt.Errorf("list queue: %w", err)
	}
	return WaitInfo{
		Ticket:         ticket,
		Treatment:      counters.Treatment,
		AverageMinutes: avg,
		Ahead:          countUnservedBefore(rows, ticket.TicketNumber),
		Estimate:       EstimateWait(ticket.TicketNumber, counters.Treatment, avg, s.localNow()),
	}, nil
}

// AdvanceWaiting moves the waiting register by one and keeps the ledger in
// step. Decrements stop at zero.
func (s *Service) AdvanceWaiting(ctx context.Context, delta int) (waiting int, err error) {
	ctx, done := s.trace(ctx, "advance_waiting", attribute.Int("delta", delta))
	defer func() { done(err) }()

	if !validDelta(delta) {
		return 0, ErrInvalidAction
	}
	err = s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		if delta > 0 {
			waiting, err = q.IncrementCounter(ctx, models.CounterWaiting)
		} else {
			waiting, err = q.DecrementCounter(ctx, models.CounterWaiting, 0)
		}
		if err != nil {
			return err
		}
		return syncToWaiting(ctx, q, waiting)
	})
	if err != nil {
		if errors.Is(err, ErrServedRowTrim) || errors.Is(err, ErrTicketedRowTrim) {
			return 0, err
		}
		return 0, fmt.Errorf("advance waiting: %w", err)
	}
	s.publish(ctx)
	return waiting, nil
}

// MarkServed flags a ledger row and recomputes treatment from the ledger.
// Serving a row may push the near-turn notice to the ticket now exactly
// NotifyThreshold places from the front.
func (s *Service) MarkServed(ctx context.Context, number int, served bool) (result MarkResult, err error) {
	ctx, done := s.trace(ctx, "mark_served", attribute.Int("number", number), attribute.Bool("served", served))
	defer func() { done(err) }()

	var notices []pendingNotice
	err = s.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		result.Treatment, notices, err = s.markInTx(ctx, q, number, served)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrQueueRowNotFound) {
			return MarkResult{}, err
		}
		return MarkResult{}, fmt.Errorf("mark served: %w", err)
	}
	result.Notified = s.deliver(ctx, notices)
	s.publish(ctx)
	return result, nil
}

// AdvanceTreatment serves the lowest unserved number (+1) or reopens the
// highest served one (-1). With nothing to move it is a no-op.
func (s *Service) AdvanceTreatment(ctx context.Context, delta int) (result MarkResult, err error) {
	ctx, done := s.trace(ctx, "advance_treatment", attribute.Int("delta", delta))
	defer func() { done(err) }()

	if !validDelta(delta) {
		return MarkResult{}, ErrInvalidAction
	}
	var notices []pendingNotice
	err = s.store.WithTx(ctx, func(q store.Queries) error {
		if err := q.LockCounter(ctx, models.CounterTreatment); err != nil {
			return err
		}
		rows, err := q.ListQueueRows(ctx)
		if err != nil {
			return err
		}
		number, ok := lowestUnserved(rows)
		if delta < 0 {
			number, ok = highestServed(rows)
		}
		if !ok {
			result.Treatment, err = recountTreatment(ctx, q)
			return err
		}
		result.Treatment, notices, err = s.markInTx(ctx, q, number, delta > 0)
		return err
	})
	if err != nil {
		return MarkResult{}, fmt.Errorf("advance treatment: %w", err)
	}
	result.Notified = s.deliver(ctx, notices)
	s.publish(ctx)
	return result, nil
}

func (s *Service) markInTx(ctx context.Context, q store.Queries, number int, served bool) (int, []pendingNotice, error) {
	if err := q.LockCounter(ctx, models.CounterTreatment); err != nil {
		return 0, nil, err
	}
	row, err := q.GetQueueRow(ctx, number)
	if err != nil {
		return 0, nil, err
	}
	if err := q.SetQueueServed(ctx, number, served); err != nil {
		return 0, nil, err
	}
	treatment, err := recountTreatment(ctx, q)
	if err != nil {
		return 0, nil, err
	}
	if !served || row.Served {
		return treatment, nil, nil
	}
	notices, err := claimNotices(ctx, q)
	if err != nil {
		return 0, nil, err
	}
	return treatment, notices, nil
}

// claimNotices flags the threshold rows inside the transaction so a ticket
// is pushed at most once. Rows without an owning ticket stay unflagged.
func claimNotices(ctx context.Context, q store.Queries) ([]pendingNotice, error) {
	rows, err := q.ListQueueRows(ctx)
	if err != nil {
		return nil, err
	}
	candidates := notificationCandidates(rows)
	if len(candidates) == 0 {
		return nil, nil
	}
	tickets, err := q.ListTickets(ctx)
	if err != nil {
		return nil, err
	}
	owners := make(map[int]models.Ticket, len(tickets))
	for _, ticket := range tickets {
		owners[ticket.TicketNumber] = ticket
	}

	var notices []pendingNotice
	var numbers []int
	for _, number := range candidates {
		owner, ok := owners[number]
		if !ok {
			continue
		}
		notices = append(notices, pendingNotice{userID: owner.UserID, displayName: owner.DisplayName, number: number})
		numbers = append(numbers, number)
	}
	if len(numbers) == 0 {
		return nil, nil
	}
	if err := q.MarkNotified(ctx, numbers); err != nil {
		return nil, err
	}
	return notices, nil
}

func (s *Service) deliver(ctx context.Context, notices []pendingNotice) []string {
	if len(notices) == 0 {
		return nil
	}
	recipients := make([]string, 0, len(notices))
	for _, notice := range notices {
		recipients = append(recipients, notice.userID)
		if s.notifier == nil {
			s.metrics.ObserveNotification("skipped")
			continue
		}
		if err := s.notifier.Send(ctx, NearTurnMessage(notice.displayName, notice.number), notice.userID); err != nil {
			s.metrics.ObserveNotification("failed")
			s.logger.Error("near-turn push failed", "user_id", notice.userID, "ticket_number", notice.number, "error", err)
			continue
		}
		s.metrics.ObserveNotification("sent")
		s.logger.Info("near-turn push sent", "user_id", notice.userID, "ticket_number", notice.number)
	}
	return recipients
}

// NearTurnMessage is the push text sent when NotifyThreshold patients remain ahead.
func NearTurnMessage(displayName string, number int) string {
	name := displayName
	if name == "" {
		name = "患者"
	}
	return fmt.Sprintf("%s様（%d番）\nあと%d人で順番です。約30分後に診察予定ですので、ご来院ください。", name, number, NotifyThreshold)
}

func (s *Service) SystemStatus(ctx context.Context) (models.SystemStatus, error) {
	return s.store.GetSystemStatus(ctx)
}

func (s *Service) ToggleStatus(ctx context.Context) (status models.SystemStatus, err error) {
	ctx, done := s.trace(ctx, "toggle_status")
	defer func() { done(err) }()

	err = s.store.WithTx(ctx, func(q store.Queries) error {
		current, err := q.GetSystemStatus(ctx)
		if err != nil {
			return err
		}
		status = current.Toggle()
		return q.SetSystemStatus(ctx, status)
	})
	if err != nil {
		return 0, fmt.Errorf("toggle status: %w", err)
	}
	s.logger.Info("system status toggled", "status", int(status))
	s.publish(ctx)
	return status, nil
}

// AutoOpenIfScheduled opens reservations when the gate fires at now. The
// result is true whenever the gate fires, including when reservations were
// already open.
func (s *Service) AutoOpenIfScheduled(ctx context.Context, now time.Time) (opened bool, err error) {
	ctx, done := s.trace(ctx, "auto_open")
	defer func() { done(err) }()

	days, err := s.store.ListClosedDays(ctx)
	if err != nil {
		return false, fmt.Errorf("list closed days: %w", err)
	}
	if !schedule.ShouldAutoOpen(now.In(s.loc), schedule.NewClosedDays(days)) {
		return false, nil
	}
	if err := s.store.SetSystemStatus(ctx, models.StatusOpen); err != nil {
		return false, fmt.Errorf("open reservations: %w", err)
	}
	s.logger.Info("reservations opened by schedule", "at", now.In(s.loc).Format(time.RFC3339))
	s.publish(ctx)
	return true, nil
}

// ResetAll starts a new cycle: registers, ledger and tickets together.
func (s *Service) ResetAll(ctx context.Context) (err error) {
	ctx, done := s.trace(ctx, "reset_all")
	defer func() { done(err) }()

	err = s.store.WithTx(ctx, func(q store.Queries) error {
		return resetCycle(ctx, q)
	})
	if err != nil {
		return fmt.Errorf("reset all: %w", err)
	}
	s.publish(ctx)
	return nil
}

func resetCycle(ctx context.Context, q store.Queries) error {
	if err := q.ResetCounters(ctx); err != nil {
		return err
	}
	if err := q.ClearQueue(ctx); err != nil {
		return err
	}
	return q.ClearTickets(ctx)
}

// ResetCounters zeroes the registers. The ledger mirrors them and is
// cleared in the same transaction.
func (s *Service) ResetCounters(ctx context.Context) (err error) {
	ctx, done := s.trace(ctx, "reset_counters")
	defer func() { done(err) }()

	err = s.store.WithTx(ctx, func(q store.Queries) error {
		if err := q.ResetCounters(ctx); err != nil {
			return err
		}
		return q.ClearQueue(ctx)
	})
	if err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	s.publish(ctx)
	return nil
}

// ResetLedger clears queue_status and, with it, the registers it backs.
func (s *Service) ResetLedger(ctx context.Context) error {
	return s.ResetCounters(ctx)
}

func (s *Service) ResetTickets(ctx context.Context) (err error) {
	ctx, done := s.trace(ctx, "reset_tickets")
	defer func() { done(err) }()

	if err := s.store.ClearTickets(ctx); err != nil {
		return fmt.Errorf("reset tickets: %w", err)
	}
	return nil
}

func (s *Service) Counters(ctx context.Context) (models.Counters, error) {
	return s.store.GetCounters(ctx)
}

func (s *Service) Ledger(ctx context.Context) ([]models.QueueStatusRow, error) {
	return s.store.ListQueueRows(ctx)
}

func (s *Service) UnservedNumbers(ctx context.Context) ([]int, error) {
	rows, err := s.store.ListQueueRows(ctx)
	if err != nil {
		return nil, err
	}
	return unservedNumbers(rows), nil
}

func (s *Service) ExaminationMinutes(ctx context.Context) (float64, error) {
	return s.averageMinutes(ctx, s.store)
}

func (s *Service) SetExaminationMinutes(ctx context.Context, minutes float64) (err error) {
	ctx, done := s.trace(ctx, "set_examination_minutes")
	defer func() { done(err) }()

	if !validMinutes(minutes) {
		return ErrInvalidMinutes
	}
	if err := s.store.SetExaminationMinutes(ctx, minutes); err != nil {
		return fmt.Errorf("set examination time: %w", err)
	}
	return nil
}
