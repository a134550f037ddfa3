package models

import "time"

// Session models an academic session (school year) in the institution
// calendar. Obligation months are 1-based offsets from StartDate.
type Session struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	Months    int       `db:"months" json:"months"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DueDateFor returns the due date of the given academic-relative month
// (1 = first month of the session) using the configured day of month.
// A day beyond the month's length clamps to its final day.
func (s *Session) DueDateFor(month, dueDay int) time.Time {
	if dueDay <= 0 {
		dueDay = 10
	}
	base := time.Date(s.StartDate.Year(), s.StartDate.Month(), 1, 0, 0, 0, 0, time.UTC)
	target := base.AddDate(0, month-1, 0)
	if last := target.AddDate(0, 1, -1).Day(); dueDay > last {
		dueDay = last
	}
	return time.Date(target.Year(), target.Month(), dueDay, 0, 0, 0, 0, time.UTC)
}
