package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
)

// GatewayInvoiceRepository handles invoice mirrors and their append-only
// callback ledger.
type GatewayInvoiceRepository struct {
	db *sqlx.DB
}

// NewGatewayInvoiceRepository constructs the repository.
func NewGatewayInvoiceRepository(db *sqlx.DB) *GatewayInvoiceRepository {
	return &GatewayInvoiceRepository{db: db}
}

const invoiceMirrorColumns = `id, payment_id, gateway_invoice_id, external_reference, checkout_url, expires_at, last_status, created_at, updated_at`

// CreateMirror persists the local copy of a gateway invoice.
func (r *GatewayInvoiceRepository) CreateMirror(ctx context.Context, mirror *models.GatewayInvoiceMirror) error {
	if mirror.ID == "" {
		mirror.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if mirror.CreatedAt.IsZero() {
		mirror.CreatedAt = now
	}
	mirror.UpdatedAt = now
	const query = `INSERT INTO gateway_invoice_mirrors (` + invoiceMirrorColumns + `)
        VALUES (:id, :payment_id, :gateway_invoice_id, :external_reference, :checkout_url, :expires_at, :last_status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, mirror); err != nil {
		return fmt.Errorf("create invoice mirror: %w", err)
	}
	return nil
}

// FindMirrorByExternalReference resolves a mirror from the callback's
// external reference.
func (r *GatewayInvoiceRepository) FindMirrorByExternalReference(ctx context.Context, ref string) (*models.GatewayInvoiceMirror, error) {
	const query = `SELECT ` + invoiceMirrorColumns + ` FROM gateway_invoice_mirrors WHERE external_reference = $1`
	var mirror models.GatewayInvoiceMirror
	if err := r.db.GetContext(ctx, &mirror, query, ref); err != nil {
		return nil, err
	}
	return &mirror, nil
}

// FindMirrorByPayment returns the mirror backing a payment, if any.
func (r *GatewayInvoiceRepository) FindMirrorByPayment(ctx context.Context, paymentID string) (*models.GatewayInvoiceMirror, error) {
	const query = `SELECT ` + invoiceMirrorColumns + ` FROM gateway_invoice_mirrors WHERE payment_id = $1`
	var mirror models.GatewayInvoiceMirror
	if err := r.db.GetContext(ctx, &mirror, query, paymentID); err != nil {
		return nil, err
	}
	return &mirror, nil
}

// UpdateMirrorStatusTx records the last externally reported status.
func (r *GatewayInvoiceRepository) UpdateMirrorStatusTx(ctx context.Context, tx *sqlx.Tx, id, lastStatus string) error {
	const query = `UPDATE gateway_invoice_mirrors SET last_status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, lastStatus, time.Now().UTC()); err != nil {
		return fmt.Errorf("update invoice mirror status: %w", err)
	}
	return nil
}

// CallbackSeen reports whether an event id is already in the ledger.
func (r *GatewayInvoiceRepository) CallbackSeen(ctx context.Context, eventID string) (bool, error) {
	const query = `SELECT 1 FROM gateway_invoice_callbacks WHERE event_id = $1 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, eventID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check invoice callback: %w", err)
	}
	return true, nil
}

// InsertCallbackTx appends one ledger row inside the reconciler transaction.
func (r *GatewayInvoiceRepository) InsertCallbackTx(ctx context.Context, tx *sqlx.Tx, cb *models.GatewayInvoiceCallback) error {
	return r.insertCallback(ctx, tx, cb)
}

func (r *GatewayInvoiceRepository) insertCallback(ctx context.Context, ext sqlx.ExtContext, cb *models.GatewayInvoiceCallback) error {
	if cb.ID == "" {
		cb.ID = uuid.NewString()
	}
	if cb.ReceivedAt.IsZero() {
		cb.ReceivedAt = time.Now().UTC()
	}
	const query = `INSERT INTO gateway_invoice_callbacks (id, mirror_id, event_id, event_type, status, amount, raw_payload, received_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := ext.ExecContext(ctx, query, cb.ID, cb.MirrorID, cb.EventID, cb.EventType, cb.Status, cb.Amount, cb.RawPayload, cb.ReceivedAt); err != nil {
		return fmt.Errorf("insert invoice callback: %w", err)
	}
	return nil
}

// ListCallbacks returns the ledger rows for a mirror, oldest first.
func (r *GatewayInvoiceRepository) ListCallbacks(ctx context.Context, mirrorID string) ([]models.GatewayInvoiceCallback, error) {
	const query = `SELECT id, mirror_id, event_id, event_type, status, amount, raw_payload, received_at
        FROM gateway_invoice_callbacks WHERE mirror_id = $1 ORDER BY received_at, id`
	var callbacks []models.GatewayInvoiceCallback
	if err := r.db.SelectContext(ctx, &callbacks, query, mirrorID); err != nil {
		return nil, fmt.Errorf("list invoice callbacks: %w", err)
	}
	return callbacks, nil
}
