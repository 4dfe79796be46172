package store

import (
	"context"

	"qms/clinic-queue/internal/models"
)

// CounterStore holds the waiting/treatment registers.
type CounterStore interface {
	GetCounters(ctx context.Context) (models.Counters, error)
	IncrementCounter(ctx context.Context, name string) (int, error)
	// DecrementCounter lowers the counter by one, never below floor.
	DecrementCounter(ctx context.Context, name string, floor int) (int, error)
	SetCounter(ctx context.Context, name string, value int) error
	ResetCounters(ctx context.Context) error
	// LockCounter serializes writers of name until the enclosing
	// transaction ends.
	LockCounter(ctx context.Context, name string) error
}

// LedgerStore holds the per-number queue_status rows.
type LedgerStore interface {
	MaxQueueNumber(ctx context.Context) (int, error)
	// InsertQueueRows inserts numbers from..to inclusive, skipping existing rows.
	InsertQueueRows(ctx context.Context, from, to int) error
	GetQueueRow(ctx context.Context, number int) (models.QueueStatusRow, error)
	DeleteQueueRow(ctx context.Context, number int) error
	SetQueueServed(ctx context.Context, number int, served bool) error
	CountServed(ctx context.Context) (int, error)
	ListQueueRows(ctx context.Context) ([]models.QueueStatusRow, error)
	MarkNotified(ctx context.Context, numbers []int) error
	ClearQueue(ctx context.Context) error
}

// TicketStore is the per-cycle ticket registry.
type TicketStore interface {
	FindTicketByUser(ctx context.Context, userID string) (models.Ticket, bool, error)
	// InsertTicket returns false when the user already holds a ticket.
	InsertTicket(ctx context.Context, ticket models.Ticket) (bool, error)
	ListTickets(ctx context.Context) ([]models.Ticket, error)
	ClearTickets(ctx context.Context) error
}

type SettingsStore interface {
	GetSystemStatus(ctx context.Context) (models.SystemStatus, error)
	SetSystemStatus(ctx context.Context, status models.SystemStatus) error
	// GetExaminationMinutes returns ErrSettingNotFound when never configured.
	GetExaminationMinutes(ctx context.Context) (float64, error)
	SetExaminationMinutes(ctx context.Context, minutes float64) error
}

type CalendarStore interface {
	ListClosedDays(ctx context.Context) ([]models.ClosedDay, error)
	AddClosedDay(ctx context.Context, day models.ClosedDay) error
	RemoveClosedDay(ctx context.Context, date string) error
	ReplaceSundayClinics(ctx context.Context, dates []string) error
	ListSundayClinics(ctx context.Context) ([]string, error)
}

type FollowerStore interface {
	UpsertFollower(ctx context.Context, follower models.Follower) error
	SetExaminationNumber(ctx context.Context, userID, number string) error
	GetFollower(ctx context.Context, userID string) (models.Follower, error)
	ListTicketHolders(ctx context.Context) ([]models.TicketHolder, error)
}

type SummaryStore interface {
	// ArchiveTickets copies current tickets into the summary for date,
	// skipping users already archived that day. Returns rows inserted.
	ArchiveTickets(ctx context.Context, date string) (int, error)
	ListTicketSummary(ctx context.Context) ([]models.TicketSummary, error)
	ListTicketSummaryByDate(ctx context.Context, date string, limit, offset int) ([]models.TicketSummary, int, error)
}

// Queries is every primitive the state machine may combine in one transaction.
type Queries interface {
	CounterStore
	LedgerStore
	TicketStore
	SettingsStore
	CalendarStore
	FollowerStore
	SummaryStore
}

type Store interface {
	Queries
	// WithTx runs fn in a transaction; any error rolls every write back.
	WithTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}
