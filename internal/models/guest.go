package models

import "time"

// Gated content types metered for guests.
const (
	GuestLessons  = "lessons"
	GuestReadings = "readings"
	GuestQuizzes  = "quizzes"
)

// GuestContentTypes lists every metered type in display order.
var GuestContentTypes = []string{GuestLessons, GuestReadings, GuestQuizzes}

// GuestDailyUsage is the counter for one content type on one calendar date.
type GuestDailyUsage struct {
	UsageDate   string    `db:"usage_date" json:"usage_date"`
	ContentType string    `db:"content_type" json:"content_type"`
	Used        int       `db:"used" json:"used"`
	MaxAllowed  int       `db:"max_allowed" json:"max_allowed"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Remaining returns how many accesses are left, never negative.
func (u GuestDailyUsage) Remaining() int {
	if u.Used >= u.MaxAllowed {
		return 0
	}
	return u.MaxAllowed - u.Used
}

// GuestAccessResult reports the outcome of a gated access attempt.
type GuestAccessResult struct {
	Allowed   bool   `json:"allowed"`
	Used      int    `json:"used"`
	Max       int    `json:"max"`
	Remaining int    `json:"remaining"`
	Date      string `json:"date"`
}
