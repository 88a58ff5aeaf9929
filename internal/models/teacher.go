package models

import "time"

// Teacher represents an instructor record, including the payout account and
// rate used by payroll.
type Teacher struct {
	ID            string    `db:"id" json:"id"`
	Email         string    `db:"email" json:"email"`
	FullName      string    `db:"full_name" json:"full_name"`
	Phone         *string   `db:"phone" json:"phone,omitempty"`
	Expertise     *string   `db:"expertise" json:"expertise,omitempty"`
	RatePerUnit   int64     `db:"rate_per_unit" json:"rate_per_unit"`
	BankCode      string    `db:"bank_code" json:"bank_code"`
	AccountNumber string    `db:"account_number" json:"account_number"`
	AccountHolder string    `db:"account_holder" json:"account_holder"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// TeacherFilter captures filtering options for listing teachers.
type TeacherFilter struct {
	Search    string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
