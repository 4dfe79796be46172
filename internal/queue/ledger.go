package queue

import (
	"context"

	"qms/clinic-queue/internal/models"
	"qms/clinic-queue/internal/store"
)

// NotifyThreshold is how many unserved tickets may remain ahead of a
// patient when the near-turn push goes out.
const NotifyThreshold = 7

// syncToWaiting grows the ledger to 1..waiting, or trims the single highest
// row when waiting shrank. A served or ticketed top row is never trimmed, so
// a number is never reissued within a cycle.
func syncToWaiting(ctx context.Context, q store.Queries, waiting int) error {
	max, err := q.MaxQueueNumber(ctx)
	if err != nil {
		return err
	}
	switch {
	case waiting > max:
		return q.InsertQueueRows(ctx, max+1, waiting)
	case waiting < max:
		top, err := q.GetQueueRow(ctx, max)
		if err != nil {
			return err
		}
		if top.Served {
			return ErrServedRowTrim
		}
		owned, err := ticketOwnsNumber(ctx, q, max)
		if err != nil {
			return err
		}
		if owned {
			return ErrTicketedRowTrim
		}
		return q.DeleteQueueRow(ctx, max)
	}
	return nil
}

func ticketOwnsNumber(ctx context.Context, q store.TicketStore, number int) (bool, error) {
	tickets, err := q.ListTickets(ctx)
	if err != nil {
		return false, err
	}
	for _, ticket := range tickets {
		if ticket.TicketNumber == number {
			return true, nil
		}
	}
	return false, nil
}

// recountTreatment persists the served count as the treatment register.
func recountTreatment(ctx context.Context, q store.Queries) (int, error) {
	served, err := q.CountServed(ctx)
	if err != nil {
		return 0, err
	}
	if err := q.SetCounter(ctx, models.CounterTreatment, served); err != nil {
		return 0, err
	}
	return served, nil
}

// countUnservedBefore expects rows in ascending number order.
func countUnservedBefore(rows []models.QueueStatusRow, number int) int {
	count := 0
	for _, row := range rows {
		if row.Number >= number {
			break
		}
		if !row.Served {
			count++
		}
	}
	return count
}

func unservedNumbers(rows []models.QueueStatusRow) []int {
	numbers := make([]int, 0, len(rows))
	for _, row := range rows {
		if !row.Served {
			numbers = append(numbers, row.Number)
		}
	}
	return numbers
}

// notificationCandidates returns unserved, not yet notified rows with
// exactly NotifyThreshold unserved rows ahead.
func notificationCandidates(rows []models.QueueStatusRow) []int {
	var numbers []int
	ahead := 0
	for _, row := range rows {
		if row.Served {
			continue
		}
		if ahead == NotifyThreshold && !row.NotificationSent {
			numbers = append(numbers, row.Number)
		}
		ahead++
		if ahead > NotifyThreshold {
			break
		}
	}
	return numbers
}

func lowestUnserved(rows []models.QueueStatusRow) (int, bool) {
	for _, row := range rows {
		if !row.Served {
			return row.Number, true
		}
	}
	return 0, false
}

func highestServed(rows []models.QueueStatusRow) (int, bool) {
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Served {
			return rows[i].Number, true
		}
	}
	return 0, false
}
