// Package schedule decides when reservations open automatically and which
// Sundays the clinic holds extra hours.
package schedule

import (
	"time"

	"qms/clinic-queue/internal/models"
)

// ClosedDays is a set of YYYY-MM-DD dates.
type ClosedDays map[string]struct{}

func NewClosedDays(days []models.ClosedDay) ClosedDays {
	set := make(ClosedDays, len(days))
	for _, day := range days {
		set[day.Date] = struct{}{}
	}
	return set
}

func (c ClosedDays) Contains(t time.Time) bool {
	_, ok := c[t.Format(models.DateLayout)]
	return ok
}

type slot struct {
	hour   int
	minute int
}

var (
	weekdaySlots = []slot{{0, 0}, {13, 20}}
	weekendSlots = []slot{{0, 0}}
)

// ShouldAutoOpen reports whether reservations open at now. now must already
// be in the clinic's location.
func ShouldAutoOpen(now time.Time, closed ClosedDays) bool {
	if closed.Contains(now) {
		return false
	}
	slots := weekdaySlots
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		slots = weekendSlots
	}
	for _, s := range slots {
		if now.Hour() == s.hour && now.Minute() == s.minute {
			return true
		}
	}
	return false
}
