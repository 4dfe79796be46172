package postgres

import (
	"context"
	"errors"
	"fmt"

	"qms/clinic-queue/internal/models"
	"qms/clinic-queue/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Pool interface {
	DB
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

type Store struct {
	queries
	pool Pool
}

func NewStore(pool Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(queries{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type queries struct {
	db DB
}

func (q queries) GetCounters(ctx context.Context) (models.Counters, error) {
	rows, err := q.db.Query(ctx, `SELECT name, value FROM counter WHERE name IN ('waiting', 'treatment')`)
	if err != nil {
		return models.Counters{}, err
	}
	defer rows.Close()

	var counters models.Counters
	for rows.Next() {
		var name string
		var value int
		if err := rows.Scan(&name, &value); err != nil {
			return models.Counters{}, err
		}
		switch name {
		case models.CounterWaiting:
			counters.Waiting = value
		case models.CounterTreatment:
			counters.Treatment = value
		}
	}
	return counters, rows.Err()
}

func (q queries) IncrementCounter(ctx context.Context, name string) (int, error) {
	var value int
	err := q.db.QueryRow(ctx, `UPDATE counter SET value = value + 1 WHERE name = $1 RETURNING value`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrCounterNotFound
	}
	return value, err
}

func (q queries) DecrementCounter(ctx context.Context, name string, floor int) (int, error) {
	var value int
	err := q.db.QueryRow(ctx, `
		UPDATE counter SET value = GREATEST(value - 1, LEAST(value, $2))
		WHERE name = $1
		RETURNING value
	`, name, floor).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrCounterNotFound
	}
	return value, err
}

func (q queries) SetCounter(ctx context.Context, name string, value int) error {
	tag, err := q.db.Exec(ctx, `UPDATE counter SET value = $2 WHERE name = $1`, name, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrCounterNotFound
	}
	return nil
}

func (q queries) ResetCounters(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `UPDATE counter SET value = 0`)
	return err
}

func (q queries) LockCounter(ctx context.Context, name string) error {
	var value int
	err := q.db.QueryRow(ctx, `SELECT value FROM counter WHERE name = $1 FOR UPDATE`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrCounterNotFound
	}
	return err
}

func (q queries) MaxQueueNumber(ctx context.Context) (int, error) {
	var max int
	err := q.db.QueryRow(ctx, `SELECT COALESCE(MAX(number), 0) FROM queue_status`).Scan(&max)
	return max, err
}

func (q queries) InsertQueueRows(ctx context.Context, from, to int) error {
	if from > to {
		return nil
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO queue_status (number)
		SELECT generate_series($1::int, $2::int)
		ON CONFLICT (number) DO NOTHING
	`, from, to)
	return err
}

func (q queries) GetQueueRow(ctx context.Context, number int) (models.QueueStatusRow, error) {
	var row models.QueueStatusRow
	err := q.db.QueryRow(ctx, `
		SELECT number, served, notification_sent FROM queue_status WHERE number = $1 FOR UPDATE
	`, number).Scan(&row.Number, &row.Served, &row.NotificationSent)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.QueueStatusRow{}, store.ErrQueueRowNotFound
	}
	return row, err
}

func (q queries) DeleteQueueRow(ctx context.Context, number int) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM queue_status WHERE number = $1`, number)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrQueueRowNotFound
	}
	return nil
}

func (q queries) SetQueueServed(ctx context.Context, number int, served bool) error {
	tag, err := q.db.Exec(ctx, `UPDATE queue_status SET served = $2 WHERE number = $1`, number, served)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrQueueRowNotFound
	}
	return nil
}

func (q queries) CountServed(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM queue_status WHERE served`).Scan(&count)
	return count, err
}

func (q queries) ListQueueRows(ctx context.Context) ([]models.QueueStatusRow, error) {
	rows, err := q.db.Query(ctx, `SELECT number, served, notification_sent FROM queue_status ORDER BY number ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.QueueStatusRow
	for rows.Next() {
		var row models.QueueStatusRow
		if err := rows.Scan(&row.Number, &row.Served, &row.NotificationSent); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (q queries) MarkNotified(ctx context.Context, numbers []int) error {
	if len(numbers) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `UPDATE queue_status SET notification_sent = TRUE WHERE number = ANY($1)`, toInt32s(numbers))
	return err
}

func (q queries) ClearQueue(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `DELETE FROM queue_status`)
	return err
}

func (q queries) FindTicketByUser(ctx context.Context, userID string) (models.Ticket, bool, error) {
	var ticket models.Ticket
	err := q.db.QueryRow(ctx, `
		SELECT line_user_id, line_display_name, ticket_number, ticket_time, created_at
		FROM tickets WHERE line_user_id = $1
	`, userID).Scan(&ticket.UserID, &ticket.DisplayName, &ticket.TicketNumber, &ticket.IssuedAt, &ticket.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (q queries) InsertTicket(ctx context.Context, ticket models.Ticket) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO tickets (line_user_id, line_display_name, ticket_number, ticket_time, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (line_user_id) DO NOTHING
	`, ticket.UserID, ticket.DisplayName, ticket.TicketNumber, ticket.IssuedAt, ticket.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (q queries) ListTickets(ctx context.Context) ([]models.Ticket, error) {
	rows, err := q.db.Query(ctx, `
		SELECT line_user_id, line_display_name, ticket_number, ticket_time, created_at
		FROM tickets ORDER BY ticket_number ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		var ticket models.Ticket
		if err := rows.Scan(&ticket.UserID, &ticket.DisplayName, &ticket.TicketNumber, &ticket.IssuedAt, &ticket.CreatedAt); err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func (q queries) ClearTickets(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `DELETE FROM tickets`)
	return err
}

func (q queries) GetSystemStatus(ctx context.Context) (models.SystemStatus, error) {
	var value int
	err := q.db.QueryRow(ctx, `SELECT value FROM status WHERE id = 1`).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.StatusOpen, nil
	}
	if err != nil {
		return 0, err
	}
	return models.SystemStatus(value), nil
}

func (q queries) SetSystemStatus(ctx context.Context, status models.SystemStatus) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO status (id, value) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value
	`, int(status))
	return err
}

func (q queries) GetExaminationMinutes(ctx context.Context) (float64, error) {
	var minutes float64
	err := q.db.QueryRow(ctx, `SELECT minutes FROM examination_time WHERE id = 1`).Scan(&minutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrSettingNotFound
	}
	return minutes, err
}

func (q queries) SetExaminationMinutes(ctx context.Context, minutes float64) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO examination_time (id, minutes) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET minutes = EXCLUDED.minutes
	`, minutes)
	return err
}

func (q queries) ListClosedDays(ctx context.Context) ([]models.ClosedDay, error) {
	rows, err := q.db.Query(ctx, `SELECT date::text, reason FROM closed_days ORDER BY date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []models.ClosedDay
	for rows.Next() {
		var day models.ClosedDay
		if err := rows.Scan(&day.Date, &day.Reason); err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

func (q queries) AddClosedDay(ctx context.Context, day models.ClosedDay) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO closed_days (date, reason) VALUES ($1::date, $2)
		ON CONFLICT (date) DO UPDATE SET reason = EXCLUDED.reason
	`, day.Date, day.Reason)
	return err
}

func (q queries) RemoveClosedDay(ctx context.Context, date string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM closed_days WHERE date = $1::date`, date)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrClosedDayNotFound
	}
	return nil
}

// ReplaceSundayClinics must run inside WithTx to be atomic.
func (q queries) ReplaceSundayClinics(ctx context.Context, dates []string) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM sunday_clinics`); err != nil {
		return err
	}
	for i, date := range dates {
		if _, err := q.db.Exec(ctx, `INSERT INTO sunday_clinics (position, date) VALUES ($1, $2::date)`, i+1, date); err != nil {
			return fmt.Errorf("insert sunday clinic %s: %w", date, err)
		}
	}
	return nil
}

func (q queries) ListSundayClinics(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT date::text FROM sunday_clinics ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, err
		}
		dates = append(dates, date)
	}
	return dates, rows.Err()
}

func (q queries) UpsertFollower(ctx context.Context, follower models.Follower) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO follow (line_user_id, line_display_name, examination_number, followed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (line_user_id) DO UPDATE SET
			line_display_name = EXCLUDED.line_display_name,
			examination_number = COALESCE(EXCLUDED.examination_number, follow.examination_number)
	`, follower.UserID, follower.DisplayName, follower.ExaminationNumber, follower.FollowedAt)
	return err
}

func (q queries) SetExaminationNumber(ctx context.Context, userID, number string) error {
	tag, err := q.db.Exec(ctx, `UPDATE follow SET examination_number = $2 WHERE line_user_id = $1`, userID, number)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrFollowerNotFound
	}
	return nil
}

func (q queries) GetFollower(ctx context.Context, userID string) (models.Follower, error) {
	var follower models.Follower
	err := q.db.QueryRow(ctx, `
		SELECT line_user_id, line_display_name, examination_number, followed_at
		FROM follow WHERE line_user_id = $1
	`, userID).Scan(&follower.UserID, &follower.DisplayName, &follower.ExaminationNumber, &follower.FollowedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Follower{}, store.ErrFollowerNotFound
	}
	return follower, err
}

func (q queries) ListTicketHolders(ctx context.Context) ([]models.TicketHolder, error) {
	rows, err := q.db.Query(ctx, `
		SELECT t.line_user_id, t.line_display_name, t.ticket_number, t.ticket_time, f.examination_number
		FROM tickets t
		LEFT JOIN follow f ON f.line_user_id = t.line_user_id
		ORDER BY t.ticket_number ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holders []models.TicketHolder
	for rows.Next() {
		var holder models.TicketHolder
		if err := rows.Scan(&holder.UserID, &holder.DisplayName, &holder.TicketNumber, &holder.IssuedAt, &holder.ExaminationNumber); err != nil {
			return nil, err
		}
		holders = append(holders, holder)
	}
	return holders, rows.Err()
}

func (q queries) ArchiveTickets(ctx context.Context, date string) (int, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO ticket_summary (ticket_date, line_user_id, line_display_name, ticket_number, ticket_time)
		SELECT $1::date, line_user_id, line_display_name, ticket_number, ticket_time FROM tickets
		ON CONFLICT (ticket_date, line_user_id) DO NOTHING
	`, date)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (q queries) ListTicketSummary(ctx context.Context) ([]models.TicketSummary, error) {
	rows, err := q.db.Query(ctx, `
		SELECT line_user_id, line_display_name, ticket_number, ticket_time, ticket_date::text
		FROM ticket_summary ORDER BY ticket_date DESC, ticket_number ASC
	`)
	if err != nil {
		return nil, err
	}
	return scanSummaries(rows)
}

func (q queries) ListTicketSummaryByDate(ctx context.Context, date string, limit, offset int) ([]models.TicketSummary, int, error) {
	var total int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_summary WHERE ticket_date = $1::date`, date).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.db.Query(ctx, `
		SELECT line_user_id, line_display_name, ticket_number, ticket_time, ticket_date::text
		FROM ticket_summary WHERE ticket_date = $1::date
		ORDER BY ticket_number ASC
		LIMIT $2 OFFSET $3
	`, date, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, 0, err
	}
	return summaries, total, nil
}

func scanSummaries(rows pgx.Rows) ([]models.TicketSummary, error) {
	defer rows.Close()
	var summaries []models.TicketSummary
	for rows.Next() {
		var row models.TicketSummary
		if err := rows.Scan(&row.UserID, &row.DisplayName, &row.TicketNumber, &row.IssuedAt, &row.TicketDate); err != nil {
			return nil, err
		}
		summaries = append(summaries, row)
	}
	return summaries, rows.Err()
}

func toInt32s(values []int) []int32 {
	out := make([]int32, len(values))
	for i, v := range values {
		out[i] = int32(v)
	}
	return out
}
