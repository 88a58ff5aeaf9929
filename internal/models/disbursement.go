package models

import "time"

// DisbursementStatus is the lifecycle of an outbound transfer.
type DisbursementStatus string

const (
	DisbursementStatusPending    DisbursementStatus = "PENDING"
	DisbursementStatusProcessing DisbursementStatus = "PROCESSING"
	DisbursementStatusCompleted  DisbursementStatus = "COMPLETED"
	DisbursementStatusFailed     DisbursementStatus = "FAILED"
)

// Terminal reports whether the status can never change again.
func (s DisbursementStatus) Terminal() bool {
	return s == DisbursementStatusCompleted || s == DisbursementStatusFailed
}

func (s DisbursementStatus) rank() int {
	switch s {
	case DisbursementStatusPending:
		return 0
	case DisbursementStatusProcessing:
		return 1
	case DisbursementStatusCompleted, DisbursementStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next is a valid forward
// transition under out-of-order callback delivery.
func (s DisbursementStatus) CanAdvanceTo(next DisbursementStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// PayrollDisbursement is the outbound transfer paying one payroll record.
type PayrollDisbursement struct {
	ID                string             `db:"id" json:"id"`
	PayrollID         string             `db:"payroll_id" json:"payroll_id"`
	BatchID           *string            `db:"batch_id" json:"batch_id,omitempty"`
	Amount            int64              `db:"amount" json:"amount"`
	BankCode          string             `db:"bank_code" json:"bank_code"`
	AccountNumber     string             `db:"account_number" json:"account_number"`
	AccountHolder     string             `db:"account_holder" json:"account_holder"`
	Status            DisbursementStatus `db:"status" json:"status"`
	ExternalReference string             `db:"external_reference" json:"external_reference"`
	FailureCode       *string            `db:"failure_code" json:"failure_code,omitempty"`
	CompletedAt       *time.Time         `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at" json:"updated_at"`
}

// BatchDisbursement groups several disbursements into one gateway call.
// Status is always derivable from the members; the stored column is only a
// denormalized convenience written in the same transaction as any member
// change.
type BatchDisbursement struct {
	ID             string             `db:"id" json:"id"`
	Reference      string             `db:"reference" json:"reference"`
	GatewayBatchID *string            `db:"gateway_batch_id" json:"gateway_batch_id,omitempty"`
	TotalAmount    int64              `db:"total_amount" json:"total_amount"`
	Status         DisbursementStatus `db:"status" json:"status"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `db:"updated_at" json:"updated_at"`
}

// BatchDisbursementDetail bundles a batch with its members.
type BatchDisbursementDetail struct {
	BatchDisbursement
	Members []PayrollDisbursement `json:"members"`
}

// DisbursementFilter scopes disbursement listings.
type DisbursementFilter struct {
	PayrollID string
	BatchID   string
	Status    DisbursementStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
