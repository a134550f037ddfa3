package models

import "time"

// Student represents a learner registered in the institution. The fee engine
// only reads these rows; record CRUD lives in the administration layer.
type Student struct {
	ID            string    `db:"id" json:"id"`
	NIS           string    `db:"nis" json:"nis"`
	FullName      string    `db:"full_name" json:"full_name"`
	GuardianName  string    `db:"guardian_name" json:"guardian_name"`
	GuardianPhone string    `db:"guardian_phone" json:"guardian_phone"`
	BirthDate     time.Time `db:"birth_date" json:"birth_date"`
	ClassID       string    `db:"class_id" json:"class_id"`
	SessionID     string    `db:"session_id" json:"session_id"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	ClassID   string
	SessionID string
	Active    *bool
	Page      int
	PageSize  int
}
