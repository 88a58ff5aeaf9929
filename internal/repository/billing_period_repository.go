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

// BillingPeriodRepository handles persistence of tuition billing periods.
type BillingPeriodRepository struct {
	db *sqlx.DB
}

// NewBillingPeriodRepository constructs the repository.
func NewBillingPeriodRepository(db *sqlx.DB) *BillingPeriodRepository {
	return &BillingPeriodRepository{db: db}
}

const billingPeriodColumns = `id, enrollment_id, month, year, amount, discount, net_total, voucher_id, status, payment_id, due_date, created_at, updated_at`

// Create persists a new billing period.
func (r *BillingPeriodRepository) Create(ctx context.Context, period *models.BillingPeriod) error {
	if period.ID == "" {
		period.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if period.CreatedAt.IsZero() {
		period.CreatedAt = now
	}
	period.UpdatedAt = now
	if period.Status == "" {
		period.Status = models.BillingPeriodStatusUnpaid
	}
	const query = `INSERT INTO billing_periods (` + billingPeriodColumns + `)
        VALUES (:id, :enrollment_id, :month, :year, :amount, :discount, :net_total, :voucher_id, :status, :payment_id, :due_date, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, period); err != nil {
		return fmt.Errorf("create billing period: %w", err)
	}
	return nil
}

// FindByID returns a billing period by its ID.
func (r *BillingPeriodRepository) FindByID(ctx context.Context, id string) (*models.BillingPeriod, error) {
	const query = `SELECT ` + billingPeriodColumns + ` FROM billing_periods WHERE id = $1`
	var period models.BillingPeriod
	if err := r.db.GetContext(ctx, &period, query, id); err != nil {
		return nil, err
	}
	return &period, nil
}

// FindByIDs returns the periods for the given ids ordered by due date, the
// order the allocator consumes them in.
func (r *BillingPeriodRepository) FindByIDs(ctx context.Context, ids []string) ([]models.BillingPeriod, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf("SELECT "+billingPeriodColumns+" FROM billing_periods WHERE id IN (%s) ORDER BY due_date, id",
		strings.Join(placeholders, ","))
	var periods []models.BillingPeriod
	if err := r.db.SelectContext(ctx, &periods, query, args...); err != nil {
		return nil, fmt.Errorf("find billing periods: %w", err)
	}
	return periods, nil
}

// ExistsForEnrollmentPeriod reports whether a period row already exists.
func (r *BillingPeriodRepository) ExistsForEnrollmentPeriod(ctx context.Context, enrollmentID string, month, year int) (bool, error) {
	const query = `SELECT 1 FROM billing_periods WHERE enrollment_id = $1 AND month = $2 AND year = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, enrollmentID, month, year); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check billing period: %w", err)
	}
	return true, nil
}

// MarkPendingPayment stamps the in-flight payment on an unpaid period.
func (r *BillingPeriodRepository) MarkPendingPayment(ctx context.Context, id, paymentID string) error {
	const query = `UPDATE billing_periods SET status = $2, payment_id = $3, updated_at = $4
        WHERE id = $1 AND status IN ($5, $6)`
	if _, err := r.db.ExecContext(ctx, query, id, models.BillingPeriodStatusPending, paymentID,
		time.Now().UTC(), models.BillingPeriodStatusUnpaid, models.BillingPeriodStatusPending); err != nil {
		return fmt.Errorf("mark billing period pending: %w", err)
	}
	return nil
}

// SettleTx marks a period settled by the given payment inside the caller's
// transaction. It refuses to touch a period already settled by a different
// payment and reports whether the row was updated, so the allocator can
// flag the discrepancy instead of silently reassigning money.
func (r *BillingPeriodRepository) SettleTx(ctx context.Context, tx *sqlx.Tx, id string, status models.BillingPeriodStatus, paymentID string) (bool, error) {
	const query = `UPDATE billing_periods SET status = $2, payment_id = $3, updated_at = $4
        WHERE id = $1
          AND status NOT IN ($5, $6, $7)`
	res, err := tx.ExecContext(ctx, query, id, status, paymentID, time.Now().UTC(),
		models.BillingPeriodStatusPaid, models.BillingPeriodStatusSettled, models.BillingPeriodStatusWaived)
	if err != nil {
		return false, fmt.Errorf("settle billing period: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settle billing period result: %w", err)
	}
	return affected == 1, nil
}

// LockByIDTx reads a period under FOR UPDATE inside the given transaction.
func (r *BillingPeriodRepository) LockByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.BillingPeriod, error) {
	const query = `SELECT ` + billingPeriodColumns + ` FROM billing_periods WHERE id = $1 FOR UPDATE`
	var period models.BillingPeriod
	if err := tx.GetContext(ctx, &period, query, id); err != nil {
		return nil, err
	}
	return &period, nil
}

// ApplyDiscount persists the computed discount and net total for a period.
func (r *BillingPeriodRepository) ApplyDiscount(ctx context.Context, id string, voucherID *string, discount, netTotal int64) error {
	const query = `UPDATE billing_periods SET voucher_id = $2, discount = $3, net_total = $4, updated_at = $5
        WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, id, voucherID, discount, netTotal, time.Now().UTC(), models.BillingPeriodStatusUnpaid)
	if err != nil {
		return fmt.Errorf("apply billing discount: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply billing discount result: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// List returns billing periods filtered by the provided criteria.
func (r *BillingPeriodRepository) List(ctx context.Context, filter models.BillingPeriodFilter) ([]models.BillingPeriodDetail, int, error) {
	base := `FROM billing_periods bp
LEFT JOIN enrollments e ON e.id = bp.enrollment_id
LEFT JOIN students s ON s.id = e.student_id`
	var conditions []string
	var args []interface{}

	if filter.EnrollmentID != "" {
		conditions = append(conditions, fmt.Sprintf("bp.enrollment_id = $%d", len(args)+1))
		args = append(args, filter.EnrollmentID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("bp.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Month > 0 {
		conditions = append(conditions, fmt.Sprintf("bp.month = $%d", len(args)+1))
		args = append(args, filter.Month)
	}
	if filter.Year > 0 {
		conditions = append(conditions, fmt.Sprintf("bp.year = $%d", len(args)+1))
		args = append(args, filter.Year)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"due_date":     "bp.due_date",
		"student_name": "s.full_name",
		"status":       "bp.status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "bp.due_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT bp.id, bp.enrollment_id, bp.month, bp.year, bp.amount, bp.discount, bp.net_total,
        bp.voucher_id, bp.status, bp.payment_id, bp.due_date, bp.created_at, bp.updated_at,
        e.student_id AS student_id, s.full_name AS student_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var periods []models.BillingPeriodDetail
	if err := r.db.SelectContext(ctx, &periods, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list billing periods: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count billing periods: %w", err)
	}
	return periods, total, nil
}

// OutstandingByStudent sums unsettled net totals for a student.
func (r *BillingPeriodRepository) OutstandingByStudent(ctx context.Context, studentID string, asOf time.Time) (*models.BillingSummary, error) {
	const query = `SELECT
        COALESCE(SUM(bp.net_total), 0) AS outstanding,
        COALESCE(SUM(CASE WHEN bp.due_date < $2 THEN bp.net_total ELSE 0 END), 0) AS overdue,
        COUNT(*) AS period_count
        FROM billing_periods bp
        JOIN enrollments e ON e.id = bp.enrollment_id
        WHERE e.student_id = $1 AND bp.status IN ($3, $4)`
	row := r.db.QueryRowxContext(ctx, query, studentID, asOf,
		models.BillingPeriodStatusUnpaid, models.BillingPeriodStatusPending)
	summary := models.BillingSummary{StudentID: studentID}
	if err := row.Scan(&summary.Outstanding, &summary.Overdue, &summary.PeriodCount); err != nil {
		return nil, fmt.Errorf("billing summary: %w", err)
	}
	return &summary, nil
}
