package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending EnrollmentStatus = "PENDING"
	EnrollmentStatusActive  EnrollmentStatus = "ACTIVE"
	EnrollmentStatusPaused  EnrollmentStatus = "PAUSED"
	EnrollmentStatusLeft    EnrollmentStatus = "LEFT"
)

// Enrollment captures a student's registration to a program. Activation
// triggers billing-period generation; the enrollment fee is collected via a
// Payment of kind ENROLLMENT_FEE.
type Enrollment struct {
	ID            string           `db:"id" json:"id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	Program       string           `db:"program" json:"program"`
	MonthlyFee    int64            `db:"monthly_fee" json:"monthly_fee"`
	EnrollmentFee int64            `db:"enrollment_fee" json:"enrollment_fee"`
	VoucherID     *string          `db:"voucher_id" json:"voucher_id,omitempty"`
	Status        EnrollmentStatus `db:"status" json:"status"`
	JoinedAt      time.Time        `db:"joined_at" json:"joined_at"`
	LeftAt        *time.Time       `db:"left_at" json:"left_at,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	Program   string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
