package models

import "time"

// GatewayInvoiceMirror is the local copy of the external invoice backing a
// non-cash payment. One-to-one with its Payment.
type GatewayInvoiceMirror struct {
	ID                string     `db:"id" json:"id"`
	PaymentID         string     `db:"payment_id" json:"payment_id"`
	GatewayInvoiceID  string     `db:"gateway_invoice_id" json:"gateway_invoice_id"`
	ExternalReference string     `db:"external_reference" json:"external_reference"`
	CheckoutURL       string     `db:"checkout_url" json:"checkout_url"`
	ExpiresAt         *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	LastStatus        string     `db:"last_status" json:"last_status"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// GatewayInvoiceCallback is one inbound webhook delivery for an invoice
// mirror. Rows are append-only: the table doubles as audit trail and
// idempotency ledger, keyed by the gateway's event id.
type GatewayInvoiceCallback struct {
	ID         string    `db:"id" json:"id"`
	MirrorID   string    `db:"mirror_id" json:"mirror_id"`
	EventID    string    `db:"event_id" json:"event_id"`
	EventType  string    `db:"event_type" json:"event_type"`
	Status     string    `db:"status" json:"status"`
	Amount     int64     `db:"amount" json:"amount"`
	RawPayload []byte    `db:"raw_payload" json:"raw_payload"`
	ReceivedAt time.Time `db:"received_at" json:"received_at"`
}

// InvoiceEventType tags normalized invoice webhook events.
type InvoiceEventType string

const (
	InvoiceEventPending InvoiceEventType = "invoice.pending"
	InvoiceEventPaid    InvoiceEventType = "invoice.paid"
	InvoiceEventSettled InvoiceEventType = "invoice.settled"
	InvoiceEventExpired InvoiceEventType = "invoice.expired"
	InvoiceEventFailed  InvoiceEventType = "invoice.failed"
)

// PaymentStatus maps the event type onto the internal payment status.
func (t InvoiceEventType) PaymentStatus() (PaymentStatus, bool) {
	switch t {
	case InvoiceEventPending:
		return PaymentStatusPending, true
	case InvoiceEventPaid:
		return PaymentStatusPaid, true
	case InvoiceEventSettled:
		return PaymentStatusSettled, true
	case InvoiceEventExpired:
		return PaymentStatusExpired, true
	case InvoiceEventFailed:
		return PaymentStatusFailed, true
	default:
		return "", false
	}
}

// InvoiceEvent is a webhook payload normalized into a typed event before it
// reaches the reconciler. Unknown payload fields stay in Raw.
type InvoiceEvent struct {
	EventID           string
	Type              InvoiceEventType
	GatewayInvoiceID  string
	ExternalReference string
	PaidAmount        int64
	PaidAt            *time.Time
	PaymentChannel    string
	Raw               []byte
}

// GatewayDisbursementMirror is the outbound twin of GatewayInvoiceMirror.
type GatewayDisbursementMirror struct {
	ID                    string    `db:"id" json:"id"`
	DisbursementID        string    `db:"disbursement_id" json:"disbursement_id"`
	GatewayDisbursementID string    `db:"gateway_disbursement_id" json:"gateway_disbursement_id"`
	ExternalReference     string    `db:"external_reference" json:"external_reference"`
	LastStatus            string    `db:"last_status" json:"last_status"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// GatewayDisbursementCallback is the append-only disbursement webhook log.
type GatewayDisbursementCallback struct {
	ID          string    `db:"id" json:"id"`
	MirrorID    string    `db:"mirror_id" json:"mirror_id"`
	EventID     string    `db:"event_id" json:"event_id"`
	EventType   string    `db:"event_type" json:"event_type"`
	Status      string    `db:"status" json:"status"`
	Amount      int64     `db:"amount" json:"amount"`
	FailureCode *string   `db:"failure_code" json:"failure_code,omitempty"`
	RawPayload  []byte    `db:"raw_payload" json:"raw_payload"`
	ReceivedAt  time.Time `db:"received_at" json:"received_at"`
}

// DisbursementEventType tags normalized disbursement webhook events.
type DisbursementEventType string

const (
	DisbursementEventProcessing DisbursementEventType = "disbursement.processing"
	DisbursementEventCompleted  DisbursementEventType = "disbursement.completed"
	DisbursementEventFailed     DisbursementEventType = "disbursement.failed"
)

// DisbursementStatus maps the event type onto the internal status.
func (t DisbursementEventType) DisbursementStatus() (DisbursementStatus, bool) {
	switch t {
	case DisbursementEventProcessing:
		return DisbursementStatusProcessing, true
	case DisbursementEventCompleted:
		return DisbursementStatusCompleted, true
	case DisbursementEventFailed:
		return DisbursementStatusFailed, true
	default:
		return "", false
	}
}

// DisbursementEvent is the normalized disbursement webhook payload.
type DisbursementEvent struct {
	EventID               string
	Type                  DisbursementEventType
	GatewayDisbursementID string
	ExternalReference     string
	Amount                int64
	FailureCode           *string
	Raw                   []byte
}
