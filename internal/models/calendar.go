package models

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

type ClosedDay struct {
	Date   string `json:"date"`
	Reason string `json:"reason,omitempty"`
}
