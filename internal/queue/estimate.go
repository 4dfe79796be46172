package queue

import (
	"math"
	"time"
)

type Estimate struct {
	Minutes int       `json:"minutes"`
	At      time.Time `json:"at"`
}

// Clock renders the projected time as HH:mm in the estimate's location.
func (e Estimate) Clock() string {
	return e.At.Format("15:04")
}

// EstimateWait projects (subject - treatment) visits of avg minutes each
// from now. Subjects already behind the treatment counter wait zero.
func EstimateWait(subject, treatment int, avg float64, now time.Time) Estimate {
	remaining := subject - treatment
	if remaining < 0 {
		remaining = 0
	}
	minutes := int(math.Round(float64(remaining) * avg))
	return Estimate{
		Minutes: minutes,
		At:      now.Add(time.Duration(minutes) * time.Minute),
	}
}
