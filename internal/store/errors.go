package store

import "errors"

var (
	ErrQueueRowNotFound  = errors.New("queue status row not found")
	ErrCounterNotFound   = errors.New("counter not found")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrFollowerNotFound  = errors.New("follower not found")
	ErrClosedDayNotFound = errors.New("closed day not found")
	ErrSettingNotFound   = errors.New("setting not found")
)
