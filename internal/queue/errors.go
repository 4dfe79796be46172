package queue

import "errors"

var (
	ErrReservationsClosed = errors.New("reservations are closed")
	ErrInvalidAction      = errors.New("invalid action")
	ErrInvalidMinutes     = errors.New("examination minutes must be positive")
	ErrInvalidUser        = errors.New("user id is required")
	ErrInvalidDate        = errors.New("date must be YYYY-MM-DD")
	ErrInvalidPage        = errors.New("page must be positive")
	ErrInvalidNumber      = errors.New("examination number is required")
	ErrNoTicket           = errors.New("user has no ticket")
	ErrServedRowTrim      = errors.New("highest queue number is already served")
	ErrTicketedRowTrim    = errors.New("highest queue number is held by a ticket")

	errDuplicateTicket = errors.New("duplicate ticket")
)
