package schedule

import (
	"time"

	"qms/clinic-queue/internal/models"
)

const (
	SundayClinicCount    = 2
	SundayLookaheadLimit = 100
)

// NextSundayClinics returns up to count Sundays from date(now) onwards that
// are not closed, scanning at most limit days.
func NextSundayClinics(now time.Time, closed ClosedDays, count, limit int) []string {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dates := make([]string, 0, count)
	for i := 0; i < limit && len(dates) < count; i++ {
		if day.Weekday() == time.Sunday && !closed.Contains(day) {
			dates = append(dates, day.Format(models.DateLayout))
		}
		day = day.AddDate(0, 0, 1)
	}
	return dates
}
