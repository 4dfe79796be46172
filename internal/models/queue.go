package models

import "time"

const (
	CounterWaiting   = "waiting"
	CounterTreatment = "treatment"
)

// SystemStatus is the reservation flag: 0 open, 1 closed.
type SystemStatus int

const (
	StatusOpen   SystemStatus = 0
	StatusClosed SystemStatus = 1
)

func (s SystemStatus) Open() bool {
	return s == StatusOpen
}

func (s SystemStatus) Toggle() SystemStatus {
	if s == StatusOpen {
		return StatusClosed
	}
	return StatusOpen
}

type Counters struct {
	Waiting   int `json:"waiting"`
	Treatment int `json:"treatment"`
}

// QueueStatusRow is one ledger row per issued number.
type QueueStatusRow struct {
	Number           int  `json:"number"`
	Served           bool `json:"served"`
	NotificationSent bool `json:"notification_sent"`
}

type Ticket struct {
	UserID       string    `json:"line_user_id"`
	DisplayName  string    `json:"line_display_name"`
	TicketNumber int       `json:"ticket_number"`
	IssuedAt     string    `json:"ticket_time"`
	CreatedAt    time.Time `json:"created_at"`
}
