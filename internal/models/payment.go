package models

import "time"

// PaymentKind distinguishes what a collection attempt pays for.
type PaymentKind string

const (
	PaymentKindEnrollmentFee PaymentKind = "ENROLLMENT_FEE"
	PaymentKindTuition       PaymentKind = "TUITION"
)

// Valid returns true when the kind is a supported value.
func (k PaymentKind) Valid() bool {
	return k == PaymentKindEnrollmentFee || k == PaymentKindTuition
}

// PaymentMethod enumerates supported collection channels.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodEWallet      PaymentMethod = "EWALLET"
	PaymentMethodRetailOutlet PaymentMethod = "RETAIL_OUTLET"
	PaymentMethodCard         PaymentMethod = "CARD"
	PaymentMethodQR           PaymentMethod = "QR"
)

// Valid returns true when the method is a supported value.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodEWallet,
		PaymentMethodRetailOutlet, PaymentMethodCard, PaymentMethodQR:
		return true
	default:
		return false
	}
}

// PaymentStatus is the lifecycle of a collection attempt.
type PaymentStatus string

const (
	PaymentStatusUnpaid         PaymentStatus = "UNPAID"
	PaymentStatusPending        PaymentStatus = "PENDING"
	PaymentStatusPaid           PaymentStatus = "PAID"
	PaymentStatusSettled        PaymentStatus = "SETTLED"
	PaymentStatusExpired        PaymentStatus = "EXPIRED"
	PaymentStatusFailed         PaymentStatus = "FAILED"
	PaymentStatusFailedToCreate PaymentStatus = "FAILED_TO_CREATE"
)

// Terminal reports whether the status can never change again.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusSettled, PaymentStatusExpired,
		PaymentStatusFailed, PaymentStatusFailedToCreate:
		return true
	default:
		return false
	}
}

// Success reports whether the status is a terminal-success state.
func (s PaymentStatus) Success() bool {
	return s == PaymentStatusPaid || s == PaymentStatusSettled
}

// rank orders forward progress: UNPAID < PENDING < {PAID, SETTLED}.
// Delivery order from the gateway is not timestamp order, so transitions
// compare ranks instead of arrival time.
func (s PaymentStatus) rank() int {
	switch s {
	case PaymentStatusUnpaid:
		return 0
	case PaymentStatusPending:
		return 1
	case PaymentStatusPaid, PaymentStatusSettled:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next is a valid forward
// transition. EXPIRED and FAILED are reachable from any non-terminal state;
// everything else must strictly increase rank.
func (s PaymentStatus) CanAdvanceTo(next PaymentStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case PaymentStatusExpired, PaymentStatusFailed:
		return true
	case PaymentStatusUnpaid, PaymentStatusPending, PaymentStatusPaid, PaymentStatusSettled:
		return next.rank() > s.rank()
	default:
		return false
	}
}

// Payment is one money-collection attempt. Once a terminal status is
// reached the row is immutable.
type Payment struct {
	ID                string        `db:"id" json:"id"`
	Kind              PaymentKind   `db:"kind" json:"kind"`
	Method            PaymentMethod `db:"method" json:"method"`
	Amount            int64         `db:"amount" json:"amount"`
	Currency          string        `db:"currency" json:"currency"`
	Status            PaymentStatus `db:"status" json:"status"`
	ExternalReference string        `db:"external_reference" json:"external_reference"`
	EnrollmentID      *string       `db:"enrollment_id" json:"enrollment_id,omitempty"`
	PayerEmail        *string       `db:"payer_email" json:"payer_email,omitempty"`
	Description       *string       `db:"description" json:"description,omitempty"`
	PaidAt            *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// PaymentAllocation pins one slice of a payment to a billing period. The
// split is computed and persisted at creation time; callbacks only read it.
type PaymentAllocation struct {
	ID              string `db:"id" json:"id"`
	PaymentID       string `db:"payment_id" json:"payment_id"`
	BillingPeriodID string `db:"billing_period_id" json:"billing_period_id"`
	Amount          int64  `db:"amount" json:"amount"`
	Position        int    `db:"position" json:"position"`
}

// PaymentFilter scopes payment listings.
type PaymentFilter struct {
	Kind         PaymentKind
	Method       PaymentMethod
	Status       PaymentStatus
	EnrollmentID string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
