package models

import "time"

// SessionStatus represents a teacher's attendance for one teaching session.
type SessionStatus string

const (
	SessionStatusPresent SessionStatus = "PRESENT"
	SessionStatusAbsent  SessionStatus = "ABSENT"
	SessionStatusExcused SessionStatus = "EXCUSED"
	SessionStatusSick    SessionStatus = "SICK"
)

// Valid returns true when the status is a supported value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPresent, SessionStatusAbsent, SessionStatusExcused, SessionStatusSick:
		return true
	default:
		return false
	}
}

// CountsForPay reports whether the session earns base-pay credit. Only
// PRESENT does; ABSENT, EXCUSED and SICK are explicitly excluded.
func (s SessionStatus) CountsForPay() bool {
	return s == SessionStatusPresent
}

// BulkOperationMode controls how bulk writes behave on errors.
type BulkOperationMode string

const (
	BulkModeAtomic         BulkOperationMode = "atomic"
	BulkModePartialOnError BulkOperationMode = "partialOnError"
)

// TeachingSession is one taught (or missed) session, carrying its duration
// in teaching-credit units.
type TeachingSession struct {
	ID          string        `db:"id" json:"id"`
	TeacherID   string        `db:"teacher_id" json:"teacher_id"`
	Subject     *string       `db:"subject" json:"subject,omitempty"`
	Date        time.Time     `db:"date" json:"date"`
	Status      SessionStatus `db:"status" json:"status"`
	CreditUnits float64       `db:"credit_units" json:"credit_units"`
	Notes       *string       `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// TeachingSessionFilter scopes session listings.
type TeachingSessionFilter struct {
	TeacherID string
	Status    *SessionStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// SessionBulkConflict captures failed rows in bulk marking.
type SessionBulkConflict struct {
	TeacherID string    `json:"teacher_id"`
	Date      time.Time `json:"date"`
	Reason    string    `json:"reason"`
}
