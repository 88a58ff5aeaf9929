package models

import "time"

// PayrollStatus is the lifecycle of a salary computation.
type PayrollStatus string

const (
	PayrollStatusDraft      PayrollStatus = "DRAFT"
	PayrollStatusProcessing PayrollStatus = "PROCESSING"
	PayrollStatusDone       PayrollStatus = "DONE"
	PayrollStatusFailed     PayrollStatus = "FAILED"
)

// PayrollRecord is one teacher/period salary computation. The record stays
// editable (recompute overwrites the draft) until its disbursement reaches
// a terminal state.
type PayrollRecord struct {
	ID          string        `db:"id" json:"id"`
	TeacherID   string        `db:"teacher_id" json:"teacher_id"`
	Month       int           `db:"month" json:"month"`
	Year        int           `db:"year" json:"year"`
	CreditUnits float64       `db:"credit_units" json:"credit_units"`
	RatePerUnit int64         `db:"rate_per_unit" json:"rate_per_unit"`
	BasePay     int64         `db:"base_pay" json:"base_pay"`
	Incentive   int64         `db:"incentive" json:"incentive"`
	Deduction   int64         `db:"deduction" json:"deduction"`
	NetTotal    int64         `db:"net_total" json:"net_total"`
	Status      PayrollStatus `db:"status" json:"status"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// PayrollDetail enriches a payroll record with teacher context.
type PayrollDetail struct {
	PayrollRecord
	TeacherName string `db:"teacher_name" json:"teacher_name"`
}

// PayrollFilter scopes payroll listings.
type PayrollFilter struct {
	TeacherID string
	Month     int
	Year      int
	Status    PayrollStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
