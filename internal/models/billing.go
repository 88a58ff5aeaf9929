package models

import "time"

// BillingPeriodStatus is the lifecycle of one month's tuition obligation.
type BillingPeriodStatus string

const (
	BillingPeriodStatusUnpaid  BillingPeriodStatus = "UNPAID"
	BillingPeriodStatusPending BillingPeriodStatus = "PENDING"
	BillingPeriodStatusPaid    BillingPeriodStatus = "PAID"
	BillingPeriodStatusSettled BillingPeriodStatus = "SETTLED"
	BillingPeriodStatusWaived  BillingPeriodStatus = "WAIVED"
)

// Settled reports whether the period no longer owes money.
func (s BillingPeriodStatus) Settled() bool {
	return s == BillingPeriodStatusPaid || s == BillingPeriodStatusSettled || s == BillingPeriodStatusWaived
}

// BillingPeriod is one month/year owed by one enrolled student.
type BillingPeriod struct {
	ID           string              `db:"id" json:"id"`
	EnrollmentID string              `db:"enrollment_id" json:"enrollment_id"`
	Month        int                 `db:"month" json:"month"`
	Year         int                 `db:"year" json:"year"`
	Amount       int64               `db:"amount" json:"amount"`
	Discount     int64               `db:"discount" json:"discount"`
	NetTotal     int64               `db:"net_total" json:"net_total"`
	VoucherID    *string             `db:"voucher_id" json:"voucher_id,omitempty"`
	Status       BillingPeriodStatus `db:"status" json:"status"`
	PaymentID    *string             `db:"payment_id" json:"payment_id,omitempty"`
	DueDate      time.Time           `db:"due_date" json:"due_date"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time           `db:"updated_at" json:"updated_at"`
}

// BillingPeriodDetail enriches a period with student context.
type BillingPeriodDetail struct {
	BillingPeriod
	StudentID   string `db:"student_id" json:"student_id"`
	StudentName string `db:"student_name" json:"student_name"`
}

// BillingPeriodFilter scopes period listings.
type BillingPeriodFilter struct {
	EnrollmentID string
	StudentID    string
	Status       BillingPeriodStatus
	Month        int
	Year         int
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// BillingSummary aggregates outstanding amounts for a student.
type BillingSummary struct {
	StudentID   string `json:"student_id"`
	Outstanding int64  `json:"outstanding"`
	Overdue     int64  `json:"overdue"`
	PeriodCount int    `json:"period_count"`
}

// VoucherType distinguishes discount rules.
type VoucherType string

const (
	VoucherTypePercentage  VoucherType = "PERCENTAGE"
	VoucherTypeFixedAmount VoucherType = "FIXED_AMOUNT"
)

// Voucher is a discount rule applied once at allocation time. The computed
// discount is persisted on the billing record and never recomputed; a new
// allocation is the only way to supersede it.
type Voucher struct {
	ID         string      `db:"id" json:"id"`
	Code       string      `db:"code" json:"code"`
	Type       VoucherType `db:"type" json:"type"`
	Value      int64       `db:"value" json:"value"`
	Active     bool        `db:"active" json:"active"`
	ValidUntil *time.Time  `db:"valid_until" json:"valid_until,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// Usable reports whether the voucher may be applied at the given time.
func (v Voucher) Usable(now time.Time) bool {
	if !v.Active {
		return false
	}
	if v.ValidUntil != nil && now.After(*v.ValidUntil) {
		return false
	}
	return true
}
