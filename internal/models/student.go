package models

import "time"

// Student represents a registered student.
type Student struct {
	ID            string    `db:"id" json:"id"`
	FullName      string    `db:"full_name" json:"full_name"`
	GuardianName  *string   `db:"guardian_name" json:"guardian_name,omitempty"`
	GuardianEmail *string   `db:"guardian_email" json:"guardian_email,omitempty"`
	Phone         *string   `db:"phone" json:"phone,omitempty"`
	School        *string   `db:"school" json:"school,omitempty"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter captures filtering options for listing students.
type StudentFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
