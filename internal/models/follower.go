package models

import "time"

type Follower struct {
	UserID            string    `json:"line_user_id"`
	DisplayName       string    `json:"line_display_name"`
	ExaminationNumber *string   `json:"examination_number"`
	FollowedAt        time.Time `json:"followed_at"`
}

// TicketHolder is a ticket joined with the holder's examination number.
type TicketHolder struct {
	UserID            string  `json:"line_user_id"`
	DisplayName       string  `json:"line_display_name"`
	TicketNumber      int     `json:"ticket_number"`
	IssuedAt          string  `json:"ticket_time"`
	ExaminationNumber *string `json:"examination_number"`
}

type TicketSummary struct {
	UserID       string `json:"line_user_id"`
	DisplayName  string `json:"line_display_name"`
	TicketNumber int    `json:"ticket_number"`
	IssuedAt     string `json:"ticket_time"`
	TicketDate   string `json:"ticket_date"`
}
