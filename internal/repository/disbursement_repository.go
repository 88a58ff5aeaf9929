package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
)

// DisbursementRepository handles payroll disbursements, batches, their
// gateway mirrors and the callback ledger.
type DisbursementRepository struct {
	db *sqlx.DB
}

// NewDisbursementRepository constructs the repository.
func NewDisbursementRepository(db *sqlx.DB) *DisbursementRepository {
	return &DisbursementRepository{db: db}
}

const disbursementColumns = `id, payroll_id, batch_id, amount, bank_code, account_number, account_holder, status, external_reference, failure_code, completed_at, created_at, updated_at`

// Create persists a new disbursement.
func (r *DisbursementRepository) Create(ctx context.Context, d *models.PayrollDisbursement) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = models.DisbursementStatusPending
	}
	const query = `INSERT INTO payroll_disbursements (` + disbursementColumns + `)
        VALUES (:id, :payroll_id, :batch_id, :amount, :bank_code, :account_number, :account_holder, :status, :external_reference, :failure_code, :completed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("create disbursement: %w", err)
	}
	return nil
}

// FindByID returns a disbursement by its ID.
func (r *DisbursementRepository) FindByID(ctx context.Context, id string) (*models.PayrollDisbursement, error) {
	const query = `SELECT ` + disbursementColumns + ` FROM payroll_disbursements WHERE id = $1`
	var d models.PayrollDisbursement
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		return nil, err
	}
	return &d, nil
}

// LockByID reads a disbursement under FOR UPDATE inside the transaction.
func (r *DisbursementRepository) LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.PayrollDisbursement, error) {
	const query = `SELECT ` + disbursementColumns + ` FROM payroll_disbursements WHERE id = $1 FOR UPDATE`
	var d models.PayrollDisbursement
	if err := tx.GetContext(ctx, &d, query, id); err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateStatusTx sets status and failure code within the transaction.
func (r *DisbursementRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.DisbursementStatus, failureCode *string, completedAt *time.Time) error {
	const query = `UPDATE payroll_disbursements SET status = $2, failure_code = $3,
        completed_at = COALESCE($4, completed_at), updated_at = $5 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, status, failureCode, completedAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update disbursement status: %w", err)
	}
	return nil
}

// ListByBatchTx returns every member of a batch inside the transaction. The
// derived batch status is computed from this snapshot.
func (r *DisbursementRepository) ListByBatchTx(ctx context.Context, tx *sqlx.Tx, batchID string) ([]models.PayrollDisbursement, error) {
	const query = `SELECT ` + disbursementColumns + ` FROM payroll_disbursements WHERE batch_id = $1 ORDER BY created_at, id`
	var members []models.PayrollDisbursement
	if err := tx.SelectContext(ctx, &members, query, batchID); err != nil {
		return nil, fmt.Errorf("list batch members: %w", err)
	}
	return members, nil
}

// ListByBatch returns every member of a batch.
func (r *DisbursementRepository) ListByBatch(ctx context.Context, batchID string) ([]models.PayrollDisbursement, error) {
	const query = `SELECT ` + disbursementColumns + ` FROM payroll_disbursements WHERE batch_id = $1 ORDER BY created_at, id`
	var members []models.PayrollDisbursement
	if err := r.db.SelectContext(ctx, &members, query, batchID); err != nil {
		return nil, fmt.Errorf("list batch members: %w", err)
	}
	return members, nil
}

// List returns disbursements filtered by the provided criteria.
func (r *DisbursementRepository) List(ctx context.Context, filter models.DisbursementFilter) ([]models.PayrollDisbursement, int, error) {
	base := "FROM payroll_disbursements"
	var conditions []string
	var args []interface{}

	if filter.PayrollID != "" {
		conditions = append(conditions, fmt.Sprintf("payroll_id = $%d", len(args)+1))
		args = append(args, filter.PayrollID)
	}
	if filter.BatchID != "" {
		conditions = append(conditions, fmt.Sprintf("batch_id = $%d", len(args)+1))
		args = append(args, filter.BatchID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT "+disbursementColumns+" %s ORDER BY created_at %s LIMIT %d OFFSET %d",
		base+clause, order, size, offset)

	var disbursements []models.PayrollDisbursement
	if err := r.db.SelectContext(ctx, &disbursements, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list disbursements: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count disbursements: %w", err)
	}
	return disbursements, total, nil
}

const batchColumns = `id, reference, gateway_batch_id, total_amount, status, created_at, updated_at`

// CreateBatch persists the batch and stamps batch_id on its members in one
// transaction.
func (r *DisbursementRepository) CreateBatch(ctx context.Context, batch *models.BatchDisbursement, memberIDs []string) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now
	if batch.Status == "" {
		batch.Status = models.DisbursementStatusPending
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertBatch = `INSERT INTO batch_disbursements (` + batchColumns + `)
        VALUES (:id, :reference, :gateway_batch_id, :total_amount, :status, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertBatch, batch); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}

	const stampMember = `UPDATE payroll_disbursements SET batch_id = $2, updated_at = $3 WHERE id = $1`
	for _, id := range memberIDs {
		if _, err := tx.ExecContext(ctx, stampMember, id, batch.ID, now); err != nil {
			return fmt.Errorf("stamp batch member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create batch: %w", err)
	}
	return nil
}

// FindBatchByID returns a batch by its ID.
func (r *DisbursementRepository) FindBatchByID(ctx context.Context, id string) (*models.BatchDisbursement, error) {
	const query = `SELECT ` + batchColumns + ` FROM batch_disbursements WHERE id = $1`
	var batch models.BatchDisbursement
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// SetBatchGatewayID records the gateway's batch id after submission.
func (r *DisbursementRepository) SetBatchGatewayID(ctx context.Context, id, gatewayBatchID string, status models.DisbursementStatus) error {
	const query = `UPDATE batch_disbursements SET gateway_batch_id = $2, status = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, gatewayBatchID, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("set batch gateway id: %w", err)
	}
	return nil
}

// UpdateBatchStatusTx rewrites the denormalized batch status within the
// member's transaction.
func (r *DisbursementRepository) UpdateBatchStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.DisbursementStatus) error {
	const query = `UPDATE batch_disbursements SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	return nil
}

const disbMirrorColumns = `id, disbursement_id, gateway_disbursement_id, external_reference, last_status, created_at, updated_at`

// CreateMirror persists the local copy of a gateway disbursement.
func (r *DisbursementRepository) CreateMirror(ctx context.Context, mirror *models.GatewayDisbursementMirror) error {
	if mirror.ID == "" {
		mirror.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if mirror.CreatedAt.IsZero() {
		mirror.CreatedAt = now
	}
	mirror.UpdatedAt = now
	const query = `INSERT INTO gateway_disbursement_mirrors (` + disbMirrorColumns + `)
        VALUES (:id, :disbursement_id, :gateway_disbursement_id, :external_reference, :last_status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, mirror); err != nil {
		return fmt.Errorf("create disbursement mirror: %w", err)
	}
	return nil
}

// FindMirrorByExternalReference resolves a mirror from a callback reference.
func (r *DisbursementRepository) FindMirrorByExternalReference(ctx context.Context, ref string) (*models.GatewayDisbursementMirror, error) {
	const query = `SELECT ` + disbMirrorColumns + ` FROM gateway_disbursement_mirrors WHERE external_reference = $1`
	var mirror models.GatewayDisbursementMirror
	if err := r.db.GetContext(ctx, &mirror, query, ref); err != nil {
		return nil, err
	}
	return &mirror, nil
}

// UpdateMirrorStatusTx records the last externally reported status.
func (r *DisbursementRepository) UpdateMirrorStatusTx(ctx context.Context, tx *sqlx.Tx, id, lastStatus string) error {
	const query = `UPDATE gateway_disbursement_mirrors SET last_status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, lastStatus, time.Now().UTC()); err != nil {
		return fmt.Errorf("update disbursement mirror status: %w", err)
	}
	return nil
}

// CallbackSeen reports whether an event id is already in the ledger.
func (r *DisbursementRepository) CallbackSeen(ctx context.Context, eventID string) (bool, error) {
	const query = `SELECT 1 FROM gateway_disbursement_callbacks WHERE event_id = $1 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, eventID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check disbursement callback: %w", err)
	}
	return true, nil
}

// InsertCallbackTx appends one ledger row inside the reconciler transaction.
func (r *DisbursementRepository) InsertCallbackTx(ctx context.Context, tx *sqlx.Tx, cb *models.GatewayDisbursementCallback) error {
	return r.insertCallback(ctx, tx, cb)
}

func (r *DisbursementRepository) insertCallback(ctx context.Context, ext sqlx.ExtContext, cb *models.GatewayDisbursementCallback) error {
	if cb.ID == "" {
		cb.ID = uuid.NewString()
	}
	if cb.ReceivedAt.IsZero() {
		cb.ReceivedAt = time.Now().UTC()
	}
	const query = `INSERT INTO gateway_disbursement_callbacks (id, mirror_id, event_id, event_type, status, amount, failure_code, raw_payload, received_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := ext.ExecContext(ctx, query, cb.ID, cb.MirrorID, cb.EventID, cb.EventType, cb.Status, cb.Amount, cb.FailureCode, cb.RawPayload, cb.ReceivedAt); err != nil {
		return fmt.Errorf("insert disbursement callback: %w", err)
	}
	return nil
}
