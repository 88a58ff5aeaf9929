package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/bimbel-adp-api/internal/models"
)

// PaymentRepository handles persistence of payments and their allocations.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, kind, method, amount, currency, status, external_reference, enrollment_id, payer_email, description, paid_at, created_at, updated_at`

// Create persists a new payment together with its allocations in one
// transaction, so the split can never exist without the payment or vice
// versa.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment, allocations []models.PaymentAllocation) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	if payment.Status == "" {
		payment.Status = models.PaymentStatusUnpaid
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create payment: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertPayment = `INSERT INTO payments (` + paymentColumns + `)
        VALUES (:id, :kind, :method, :amount, :currency, :status, :external_reference, :enrollment_id, :payer_email, :description, :paid_at, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertPayment, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}

	const insertAllocation = `INSERT INTO payment_allocations (id, payment_id, billing_period_id, amount, position)
        VALUES ($1, $2, $3, $4, $5)`
	for i := range allocations {
		if allocations[i].ID == "" {
			allocations[i].ID = uuid.NewString()
		}
		allocations[i].PaymentID = payment.ID
		if _, err := tx.ExecContext(ctx, insertAllocation,
			allocations[i].ID, payment.ID, allocations[i].BillingPeriodID, allocations[i].Amount, allocations[i].Position); err != nil {
			return fmt.Errorf("create payment allocation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create payment: %w", err)
	}
	return nil
}

// FindByID returns a payment by its ID.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*models.Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// LockByID reads a payment under FOR UPDATE inside the given transaction.
// Concurrent callbacks for the same reference serialize on this lock.
func (r *PaymentRepository) LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	var payment models.Payment
	if err := tx.GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdateStatusTx sets the payment status within the caller's transaction.
func (r *PaymentRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.PaymentStatus, paidAt *time.Time) error {
	const query = `UPDATE payments SET status = $2, paid_at = COALESCE($3, paid_at), updated_at = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, status, paidAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

// UpdateStatus sets the payment status outside any transaction, used for
// creation-path failures before the gateway has a record to call back on.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	const query = `UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

// AllocationsByPayment returns the persisted split ordered by position.
func (r *PaymentRepository) AllocationsByPayment(ctx context.Context, paymentID string) ([]models.PaymentAllocation, error) {
	const query = `SELECT id, payment_id, billing_period_id, amount, position
        FROM payment_allocations WHERE payment_id = $1 ORDER BY position`
	var allocations []models.PaymentAllocation
	if err := r.db.SelectContext(ctx, &allocations, query, paymentID); err != nil {
		return nil, fmt.Errorf("list payment allocations: %w", err)
	}
	return allocations, nil
}

// AllocationsByPaymentTx is AllocationsByPayment inside a transaction.
func (r *PaymentRepository) AllocationsByPaymentTx(ctx context.Context, tx *sqlx.Tx, paymentID string) ([]models.PaymentAllocation, error) {
	const query = `SELECT id, payment_id, billing_period_id, amount, position
        FROM payment_allocations WHERE payment_id = $1 ORDER BY position`
	var allocations []models.PaymentAllocation
	if err := tx.SelectContext(ctx, &allocations, query, paymentID); err != nil {
		return nil, fmt.Errorf("list payment allocations: %w", err)
	}
	return allocations, nil
}

// List returns payments filtered by the provided criteria.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	base := "FROM payments"
	var conditions []string
	var args []interface{}

	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)+1))
		args = append(args, filter.Kind)
	}
	if filter.Method != "" {
		conditions = append(conditions, fmt.Sprintf("method = $%d", len(args)+1))
		args = append(args, filter.Method)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.EnrollmentID != "" {
		conditions = append(conditions, fmt.Sprintf("enrollment_id = $%d", len(args)+1))
		args = append(args, filter.EnrollmentID)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at": "created_at",
		"amount":     "amount",
		"status":     "status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
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

	query := fmt.Sprintf("SELECT "+paymentColumns+" %s ORDER BY %s %s LIMIT %d OFFSET %d",
		base+clause, orderBy, order, size, offset)

	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}
