// Package memory is an in-process store with the same transactional
// semantics as the postgres store. Writes inside WithTx apply to a copy that
// replaces the live state only when the callback succeeds.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"qms/clinic-queue/internal/models"
	"qms/clinic-queue/internal/store"
)

type state struct {
	counters      map[string]int
	status        models.SystemStatus
	minutes       float64
	hasMinutes    bool
	ledger        map[int]models.QueueStatusRow
	tickets       map[string]models.Ticket
	closedDays    map[string]models.ClosedDay
	sundayClinics []string
	followers     map[string]models.Follower
	summaries     []models.TicketSummary
}

func newState() *state {
	return &state{
		counters:   map[string]int{models.CounterWaiting: 0, models.CounterTreatment: 0},
		status:     models.StatusOpen,
		ledger:     make(map[int]models.QueueStatusRow),
		tickets:    make(map[string]models.Ticket),
		closedDays: make(map[string]models.ClosedDay),
		followers:  make(map[string]models.Follower),
	}
}

func (s *state) clone() *state {
	c := &state{
		counters:      make(map[string]int, len(s.counters)),
		status:        s.status,
		minutes:       s.minutes,
		hasMinutes:    s.hasMinutes,
		ledger:        make(map[int]models.QueueStatusRow, len(s.ledger)),
		tickets:       make(map[string]models.Ticket, len(s.tickets)),
		closedDays:    make(map[string]models.ClosedDay, len(s.closedDays)),
		sundayClinics: append([]string(nil), s.sundayClinics...),
		followers:     make(map[string]models.Follower, len(s.followers)),
		summaries:     append([]models.TicketSummary(nil), s.summaries...),
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	for k, v := range s.ledger {
		c.ledger[k] = v
	}
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	for k, v := range s.closedDays {
		c.closedDays[k] = v
	}
	for k, v := range s.followers {
		c.followers[k] = v
	}
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
	queries
}

func NewStore() *Store {
	s := &Store{st: newState()}
	s.queries = queries{view: func() *state { return s.st }, lock: &s.mu}
	return s
}

func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.st.clone()
	if err := fn(queries{view: func() *state { return draft }}); err != nil {
		return err
	}
	s.st = draft
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// queries operates on whichever state view returns. lock is nil inside a
// transaction, where the Store mutex is already held.
type queries struct {
	view func() *state
	lock *sync.Mutex
}

func (q queries) with(fn func(st *state) error) error {
	if q.lock != nil {
		q.lock.Lock()
		defer q.lock.Unlock()
	}
	return fn(q.view())
}

func (q queries) GetCounters(ctx context.Context) (models.Counters, error) {
	var out models.Counters
	err := q.with(func(st *state) error {
		out = models.Counters{Waiting: st.counters[models.CounterWaiting], Treatment: st.counters[models.CounterTreatment]}
		return nil
	})
	return out, err
}

func (q queries) IncrementCounter(ctx context.Context, name string) (int, error) {
	var value int
	err := q.with(func(st *state) error {
		current, ok := st.counters[name]
		if !ok {
			return store.ErrCounterNotFound
		}
		value = current + 1
		st.counters[name] = value
		return nil
	})
	return value, err
}

func (q queries) DecrementCounter(ctx context.Context, name string, floor int) (int, error) {
	var value int
	err := q.with(func(st *state) error {
		current, ok := st.counters[name]
		if !ok {
			return store.ErrCounterNotFound
		}
		value = current - 1
		if value < floor {
			value = floor
		}
		if current < floor {
			value = current
		}
		st.counters[name] = value
		return nil
	})
	return value, err
}

func (q queries) SetCounter(ctx context.Context, name string, value int) error {
	return q.with(func(st *state) error {
		if _, ok := st.counters[name]; !ok {
			return store.ErrCounterNotFound
		}
		st.counters[name] = value
		return nil
	})
}

func (q queries) ResetCounters(ctx context.Context) error {
	return q.with(func(st *state) error {
		for name := range st.counters {
			st.counters[name] = 0
		}
		return nil
	})
}

// LockCounter is a no-op: WithTx already holds the store mutex.
func (q queries) LockCounter(ctx context.Context, name string) error {
	return q.with(func(st *state) error {
		if _, ok := st.counters[name]; !ok {
			return store.ErrCounterNotFound
		}
		return nil
	})
}

func (q queries) MaxQueueNumber(ctx context.Context) (int, error) {
	var max int
	err := q.with(func(st *state) error {
		for number := range st.ledger {
			if number > max {
				max = number
			}
		}
		return nil
	})
	return max, err
}

func (q queries) InsertQueueRows(ctx context.Context, from, to int) error {
	return q.with(func(st *state) error {
		for number := from; number <= to; number++ {
			if _, ok := st.ledger[number]; ok {
				continue
			}
			st.ledger[number] = models.QueueStatusRow{Number: number}
		}
		return nil
	})
}

func (q queries) GetQueueRow(ctx context.Context, number int) (models.QueueStatusRow, error) {
	var row models.QueueStatusRow
	err := q.with(func(st *state) error {
		found, ok := st.ledger[number]
		if !ok {
			return store.ErrQueueRowNotFound
		}
		row = found
		return nil
	})
	return row, err
}

func (q queries) DeleteQueueRow(ctx context.Context, number int) error {
	return q.with(func(st *state) error {
		if _, ok := st.ledger[number]; !ok {
			return store.ErrQueueRowNotFound
		}
		delete(st.ledger, number)
		return nil
	})
}

func (q queries) SetQueueServed(ctx context.Context, number int, served bool) error {
	return q.with(func(st *state) error {
		row, ok := st.ledger[number]
		if !ok {
			return store.ErrQueueRowNotFound
		}
		row.Served = served
		st.ledger[number] = row
		return nil
	})
}

func (q queries) CountServed(ctx context.Context) (int, error) {
	var count int
	err := q.with(func(st *state) error {
		for _, row := range st.ledger {
			if row.Served {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (q queries) ListQueueRows(ctx context.Context) ([]models.QueueStatusRow, error) {
	var rows []models.QueueStatusRow
	err := q.with(func(st *state) error {
		rows = make([]models.QueueStatusRow, 0, len(st.ledger))
		for _, row := range st.ledger {
			rows = append(rows, row)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Number < rows[j].Number })
		return nil
	})
	return rows, err
}

func (q queries) MarkNotified(ctx context.Context, numbers []int) error {
	return q.with(func(st *state) error {
		for _, number := range numbers {
			row, ok := st.ledger[number]
			if !ok {
				continue
			}
			row.NotificationSent = true
			st.ledger[number] = row
		}
		return nil
	})
}

func (q queries) ClearQueue(ctx context.Context) error {
	return q.with(func(st *state) error {
		st.ledger = make(map[int]models.QueueStatusRow)
		return nil
	})
}

func (q queries) FindTicketByUser(ctx context.Context, userID string) (models.Ticket, bool, error) {
	var ticket models.Ticket
	var found bool
	err := q.with(func(st *state) error {
		ticket, found = st.tickets[userID]
		return nil
	})
	return ticket, found, err
}

func (q queries) InsertTicket(ctx context.Context, ticket models.Ticket) (bool, error) {
	var inserted bool
	err := q.with(func(st *state) error {
		if _, ok := st.tickets[ticket.UserID]; ok {
			return nil
		}
		if ticket.CreatedAt.IsZero() {
			ticket.CreatedAt = time.Now().UTC()
		}
		st.tickets[ticket.UserID] = ticket
		inserted = true
		return nil
	})
	return inserted, err
}

func (q queries) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := q.with(func(st *state) error {
		tickets = sortedTickets(st)
		return nil
	})
	return tickets, err
}

func sortedTickets(st *state) []models.Ticket {
	tickets := make([]models.Ticket, 0, len(st.tickets))
	for _, ticket := range st.tickets {
		tickets = append(tickets, ticket)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].TicketNumber < tickets[j].TicketNumber })
	return tickets
}

func (q queries) ClearTickets(ctx context.Context) error {
	return q.with(func(st *state) error {
		st.tickets = make(map[string]models.Ticket)
		return nil
	})
}

func (q queries) GetSystemStatus(ctx context.Context) (models.SystemStatus, error) {
	var status models.SystemStatus
	err := q.with(func(st *state) error {
		status = st.status
		return nil
	})
	return status, err
}

func (q queries) SetSystemStatus(ctx context.Context, status models.SystemStatus) error {
	return q.with(func(st *state) error {
		st.status = status
		return nil
	})
}

func (q queries) GetExaminationMinutes(ctx context.Context) (float64, error) {
	var minutes float64
	err := q.with(func(st *state) error {
		if !st.hasMinutes {
			return store.ErrSettingNotFound
		}
		minutes = st.minutes
		return nil
	})
	return minutes, err
}

func (q queries) SetExaminationMinutes(ctx context.Context, minutes float64) error {
	return q.with(func(st *state) error {
		st.minutes = minutes
		st.hasMinutes = true
		return nil
	})
}

func (q queries) ListClosedDays(ctx context.Context) ([]models.ClosedDay, error) {
	var days []models.ClosedDay
	err := q.with(func(st *state) error {
		days = make([]models.ClosedDay, 0, len(st.closedDays))
		for _, day := range st.closedDays {
			days = append(days, day)
		}
		sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
		return nil
	})
	return days, err
}

func (q queries) AddClosedDay(ctx context.Context, day models.ClosedDay) error {
	return q.with(func(st *state) error {
		st.closedDays[day.Date] = day
		return nil
	})
}

func (q queries) RemoveClosedDay(ctx context.Context, date string) error {
	return q.with(func(st *state) error {
		if _, ok := st.closedDays[date]; !ok {
			return store.ErrClosedDayNotFound
		}
		delete(st.closedDays, date)
		return nil
	})
}

func (q queries) ReplaceSundayClinics(ctx context.Context, dates []string) error {
	return q.with(func(st *state) error {
		st.sundayClinics = append([]string(nil), dates...)
		return nil
	})
}

func (q queries) ListSundayClinics(ctx context.Context) ([]string, error) {
	var dates []string
	err := q.with(func(st *state) error {
		dates = append([]string(nil), st.sundayClinics...)
		return nil
	})
	return dates, err
}

func (q queries) UpsertFollower(ctx context.Context, follower models.Follower) error {
	return q.with(func(st *state) error {
		if existing, ok := st.followers[follower.UserID]; ok && follower.ExaminationNumber == nil {
			follower.ExaminationNumber = existing.ExaminationNumber
		}
		if follower.FollowedAt.IsZero() {
			follower.FollowedAt = time.Now().UTC()
		}
		st.followers[follower.UserID] = follower
		return nil
	})
}

func (q queries) SetExaminationNumber(ctx context.Context, userID, number string) error {
	return q.with(func(st *state) error {
		follower, ok := st.followers[userID]
		if !ok {
			return store.ErrFollowerNotFound
		}
		follower.ExaminationNumber = &number
		st.followers[userID] = follower
		return nil
	})
}

func (q queries) GetFollower(ctx context.Context, userID string) (models.Follower, error) {
	var follower models.Follower
	err := q.with(func(st *state) error {
		found, ok := st.followers[userID]
		if !ok {
			return store.ErrFollowerNotFound
		}
		follower = found
		return nil
	})
	return follower, err
}

func (q queries) ListTicketHolders(ctx context.Context) ([]models.TicketHolder, error) {
	var holders []models.TicketHolder
	err := q.with(func(st *state) error {
		for _, ticket := range sortedTickets(st) {
			holder := models.TicketHolder{
				UserID:       ticket.UserID,
				DisplayName:  ticket.DisplayName,
				TicketNumber: ticket.TicketNumber,
				IssuedAt:     ticket.IssuedAt,
			}
			if follower, ok := st.followers[ticket.UserID]; ok {
				holder.ExaminationNumber = follower.ExaminationNumber
			}
			holders = append(holders, holder)
		}
		return nil
	})
	return holders, err
}

func (q queries) ArchiveTickets(ctx context.Context, date string) (int, error) {
	var inserted int
	err := q.with(func(st *state) error {
		archived := make(map[string]bool)
		for _, row := range st.summaries {
			if row.TicketDate == date {
				archived[row.UserID] = true
			}
		}
		for _, ticket := range sortedTickets(st) {
			if archived[ticket.UserID] {
				continue
			}
			st.summaries = append(st.summaries, models.TicketSummary{
				UserID:       ticket.UserID,
				DisplayName:  ticket.DisplayName,
				TicketNumber: ticket.TicketNumber,
				IssuedAt:     ticket.IssuedAt,
				TicketDate:   date,
			})
			inserted++
		}
		return nil
	})
	return inserted, err
}

func (q queries) ListTicketSummary(ctx context.Context) ([]models.TicketSummary, error) {
	var rows []models.TicketSummary
	err := q.with(func(st *state) error {
		rows = append([]models.TicketSummary(nil), st.summaries...)
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].TicketDate != rows[j].TicketDate {
				return rows[i].TicketDate > rows[j].TicketDate
			}
			return rows[i].TicketNumber < rows[j].TicketNumber
		})
		return nil
	})
	return rows, err
}

func (q queries) ListTicketSummaryByDate(ctx context.Context, date string, limit, offset int) ([]models.TicketSummary, int, error) {
	var page []models.TicketSummary
	var total int
	err := q.with(func(st *state) error {
		var matched []models.TicketSummary
		for _, row := range st.summaries {
			if row.TicketDate == date {
				matched = append(matched, row)
			}
		}
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].TicketNumber < matched[j].TicketNumber })
		total = len(matched)
		if offset >= total {
			return nil
		}
		end := offset + limit
		if end > total {
			end = total
		}
		page = matched[offset:end]
		return nil
	})
	return page, total, err
}
