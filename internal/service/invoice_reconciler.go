package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
	"github.com/noah-isme/bimbel-adp-api/pkg/database"
	appErrors "github.com/noah-isme/bimbel-adp-api/pkg/errors"
	"github.com/noah-isme/bimbel-adp-api/pkg/gatewayclient"
)

type invoiceMirrorStore interface {
	FindMirrorByExternalReference(ctx context.Context, ref string) (*models.GatewayInvoiceMirror, error)
	UpdateMirrorStatusTx(ctx context.Context, tx *sqlx.Tx, id, lastStatus string) error
	CallbackSeen(ctx context.Context, eventID string) (bool, error)
	InsertCallbackTx(ctx context.Context, tx *sqlx.Tx, cb *models.GatewayInvoiceCallback) error
}

type eventDeduper interface {
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// invoiceCallbackPayload is the raw webhook body for invoice events.
type invoiceCallbackPayload struct {
	EventID        string     `json:"event_id"`
	Event          string     `json:"event"`
	InvoiceID      string     `json:"invoice_id"`
	ExternalID     string     `json:"external_id"`
	Status         string     `json:"status"`
	PaidAmount     int64      `json:"paid_amount"`
	PaidAt         *time.Time `json:"paid_at"`
	PaymentChannel string     `json:"payment_channel"`
}

// InvoiceReconcilerConfig tunes webhook processing.
type InvoiceReconcilerConfig struct {
	CallbackSecret string
	DedupTTL       time.Duration
}

// InvoiceReconciler applies invoice webhooks to local payment state. Every
// accepted event lands in the callback ledger exactly once; replays and
// out-of-order deliveries converge on the same terminal state.
type InvoiceReconciler struct {
	db       *sqlx.DB
	payments paymentRepository
	billing  billingPeriodStore
	invoices invoiceMirrorStore
	dedup    eventDeduper
	audit    paymentAuditLogger
	logger   *zap.Logger
	cfg      InvoiceReconcilerConfig
}

// NewInvoiceReconciler constructs an InvoiceReconciler.
func NewInvoiceReconciler(db *sqlx.DB, payments paymentRepository, billing billingPeriodStore, invoices invoiceMirrorStore, dedup eventDeduper, audit paymentAuditLogger, logger *zap.Logger, cfg InvoiceReconcilerConfig) *InvoiceReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 48 * time.Hour
	}
	return &InvoiceReconciler{
		db:       db,
		payments: payments,
		billing:  billing,
		invoices: invoices,
		dedup:    dedup,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
	}
}

// Process verifies, normalizes and applies one invoice webhook delivery.
// The returned error's code decides the HTTP response: unknown references
// and internal failures are surfaced so the gateway redelivers.
func (r *InvoiceReconciler) Process(ctx context.Context, rawBody []byte, signature string) error {
	if !gatewayclient.VerifySignature(r.cfg.CallbackSecret, rawBody, signature) {
		return appErrors.Clone(appErrors.ErrInvalidSignature, "")
	}

	event, err := r.normalize(rawBody)
	if err != nil {
		return err
	}

	target, known := event.Type.PaymentStatus()
	if !known {
		r.logger.Info("ignoring unknown invoice event type",
			zap.String("event_id", event.EventID),
			zap.String("event", string(event.Type)))
		return nil
	}

	if r.dedup != nil {
		seen, err := r.dedup.MarkEventSeen(ctx, event.EventID, r.cfg.DedupTTL)
		if err != nil {
			r.logger.Warn("event dedup cache unavailable", zap.Error(err))
		} else if seen {
			r.logger.Debug("duplicate invoice event short-circuited by cache",
				zap.String("event_id", event.EventID))
			return nil
		}
	}

	seen, err := r.invoices.CallbackSeen(ctx, event.EventID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check callback ledger")
	}
	if seen {
		// The ledger keeps one row per event id; the replayed payload is
		// preserved in the log stream instead.
		r.logger.Info("duplicate invoice event ignored",
			zap.String("event_id", event.EventID),
			zap.ByteString("payload", event.Raw))
		return nil
	}

	mirror, err := r.invoices.FindMirrorByExternalReference(ctx, event.ExternalReference)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrUnknownReference, "no invoice for reference "+event.ExternalReference)
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve invoice mirror")
	}

	return r.apply(ctx, mirror, event, target)
}

// normalize parses and validates the raw body into a typed event.
func (r *InvoiceReconciler) normalize(rawBody []byte) (*models.InvoiceEvent, error) {
	var payload invoiceCallbackPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed callback payload")
	}
	if payload.EventID == "" || payload.Event == "" || payload.ExternalID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "callback missing event_id, event or external_id")
	}
	return &models.InvoiceEvent{
		EventID:           payload.EventID,
		Type:              models.InvoiceEventType(payload.Event),
		GatewayInvoiceID:  payload.InvoiceID,
		ExternalReference: payload.ExternalID,
		PaidAmount:        payload.PaidAmount,
		PaidAt:            payload.PaidAt,
		PaymentChannel:    payload.PaymentChannel,
		Raw:               rawBody,
	}, nil
}

// apply runs the state transition in one transaction under the payment's
// row lock. Stale events are recorded in the ledger without any mutation.
func (r *InvoiceReconciler) apply(ctx context.Context, mirror *models.GatewayInvoiceMirror, event *models.InvoiceEvent, target models.PaymentStatus) error {
	callback := &models.GatewayInvoiceCallback{
		MirrorID:   mirror.ID,
		EventID:    event.EventID,
		EventType:  string(event.Type),
		Status:     string(target),
		Amount:     event.PaidAmount,
		RawPayload: event.Raw,
	}

	var stale, amountMismatch bool
	err := database.WithinTx(ctx, r.db, func(tx *sqlx.Tx) error {
		payment, err := r.payments.LockByID(ctx, tx, mirror.PaymentID)
		if err != nil {
			return err
		}

		if !payment.Status.CanAdvanceTo(target) {
			stale = true
			return r.invoices.InsertCallbackTx(ctx, tx, callback)
		}

		// The allocated amount stays authoritative. A gateway-reported
		// figure that disagrees is recorded for finance review and the
		// transition proceeds on the local amount.
		if target.Success() && event.PaidAmount > 0 && event.PaidAmount != payment.Amount {
			amountMismatch = true
		}

		paidAt := event.PaidAt
		if target.Success() && paidAt == nil {
			now := time.Now().UTC()
			paidAt = &now
		}
		if err := r.payments.UpdateStatusTx(ctx, tx, payment.ID, target, paidAt); err != nil {
			return err
		}
		if err := r.invoices.UpdateMirrorStatusTx(ctx, tx, mirror.ID, string(target)); err != nil {
			return err
		}
		if err := r.invoices.InsertCallbackTx(ctx, tx, callback); err != nil {
			return err
		}

		if target.Success() {
			periodStatus := models.BillingPeriodStatusPaid
			if target == models.PaymentStatusSettled {
				periodStatus = models.BillingPeriodStatusSettled
			}
			return settleAllocations(ctx, tx, r.payments, r.billing, r.audit, r.logger, payment.ID, periodStatus)
		}
		return nil
	})
	if err != nil {
		return appErrors.FromError(err)
	}

	if amountMismatch {
		r.logger.Warn("invoice callback amount differs from billed amount",
			zap.String("event_id", event.EventID),
			zap.String("payment_id", mirror.PaymentID),
			zap.Int64("paid_amount", event.PaidAmount))
		r.logMismatchAudit(ctx, mirror.PaymentID, event)
	}

	if stale {
		r.logger.Info("stale invoice event recorded without transition",
			zap.String("event_id", event.EventID),
			zap.String("payment_id", mirror.PaymentID),
			zap.String("target", string(target)))
		return nil
	}

	r.logAudit(ctx, mirror.PaymentID)
	r.logger.Info("invoice event applied",
		zap.String("event_id", event.EventID),
		zap.String("payment_id", mirror.PaymentID),
		zap.String("status", string(target)))
	return nil
}

func (r *InvoiceReconciler) logMismatchAudit(ctx context.Context, paymentID string, event *models.InvoiceEvent) {
	if r.audit == nil {
		return
	}
	detail, _ := json.Marshal(map[string]interface{}{
		"event_id":    event.EventID,
		"paid_amount": event.PaidAmount,
	})
	entry := &models.AuditLog{
		Action:     models.AuditActionPaymentAmountMismatch,
		Resource:   "payment",
		ResourceID: &paymentID,
		NewValues:  detail,
	}
	if err := r.audit.CreateAuditLog(ctx, entry); err != nil {
		r.logger.Warn("failed to write amount mismatch audit log", zap.Error(err))
	}
}

func (r *InvoiceReconciler) logAudit(ctx context.Context, paymentID string) {
	if r.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     models.AuditActionPaymentReconcile,
		Resource:   "payment",
		ResourceID: &paymentID,
	}
	if err := r.audit.CreateAuditLog(ctx, entry); err != nil {
		r.logger.Warn("failed to write reconcile audit log", zap.Error(err))
	}
}
