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

// PayrollRepository handles salary computations.
type PayrollRepository struct {
	db *sqlx.DB
}

// NewPayrollRepository constructs the repository.
func NewPayrollRepository(db *sqlx.DB) *PayrollRepository {
	return &PayrollRepository{db: db}
}

const payrollColumns = `id, teacher_id, month, year, credit_units, rate_per_unit, base_pay, incentive, deduction, net_total, status, created_at, updated_at`

// Upsert writes a payroll record, overwriting an existing draft for the same
// teacher and period. Records past DRAFT are never overwritten; the caller
// must check the status first under a row lock.
func (r *PayrollRepository) Upsert(ctx context.Context, record *models.PayrollRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = models.PayrollStatusDraft
	}
	const query = `INSERT INTO payroll_records (` + payrollColumns + `)
        VALUES (:id, :teacher_id, :month, :year, :credit_units, :rate_per_unit, :base_pay, :incentive, :deduction, :net_total, :status, :created_at, :updated_at)
        ON CONFLICT (teacher_id, month, year) DO UPDATE SET
            credit_units = EXCLUDED.credit_units,
            rate_per_unit = EXCLUDED.rate_per_unit,
            base_pay = EXCLUDED.base_pay,
            incentive = EXCLUDED.incentive,
            deduction = EXCLUDED.deduction,
            net_total = EXCLUDED.net_total,
            updated_at = EXCLUDED.updated_at
        WHERE payroll_records.status = 'DRAFT'`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("upsert payroll record: %w", err)
	}
	return nil
}

// FindByID returns a payroll record by its ID.
func (r *PayrollRepository) FindByID(ctx context.Context, id string) (*models.PayrollRecord, error) {
	const query = `SELECT ` + payrollColumns + ` FROM payroll_records WHERE id = $1`
	var record models.PayrollRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByTeacherPeriod returns the record for one teacher and period, or
// sql.ErrNoRows when none has been generated yet.
func (r *PayrollRepository) FindByTeacherPeriod(ctx context.Context, teacherID string, month, year int) (*models.PayrollRecord, error) {
	const query = `SELECT ` + payrollColumns + ` FROM payroll_records WHERE teacher_id = $1 AND month = $2 AND year = $3`
	var record models.PayrollRecord
	if err := r.db.GetContext(ctx, &record, query, teacherID, month, year); err != nil {
		return nil, err
	}
	return &record, nil
}

// LockByIDTx reads a payroll record under FOR UPDATE.
func (r *PayrollRepository) LockByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.PayrollRecord, error) {
	const query = `SELECT ` + payrollColumns + ` FROM payroll_records WHERE id = $1 FOR UPDATE`
	var record models.PayrollRecord
	if err := tx.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateStatus moves a record through its lifecycle.
func (r *PayrollRepository) UpdateStatus(ctx context.Context, id string, status models.PayrollStatus) error {
	const query = `UPDATE payroll_records SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update payroll status: %w", err)
	}
	return nil
}

// UpdateStatusTx is UpdateStatus inside the caller's transaction.
func (r *PayrollRepository) UpdateStatusTx(ctx context.Context, tx *sqlx.Tx, id string, status models.PayrollStatus) error {
	const query = `UPDATE payroll_records SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update payroll status: %w", err)
	}
	return nil
}

// SumPresentCreditUnits totals the credit units of sessions marked PRESENT
// for one teacher in one period. Absent, excused and sick sessions earn
// nothing.
func (r *PayrollRepository) SumPresentCreditUnits(ctx context.Context, teacherID string, month, year int) (float64, error) {
	const query = `SELECT COALESCE(SUM(credit_units), 0) FROM teaching_sessions
        WHERE teacher_id = $1 AND status = 'PRESENT'
        AND EXTRACT(MONTH FROM date) = $2 AND EXTRACT(YEAR FROM date) = $3`
	var units float64
	if err := r.db.GetContext(ctx, &units, query, teacherID, month, year); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("sum present credit units: %w", err)
	}
	return units, nil
}

// List returns payroll records joined with teacher names.
func (r *PayrollRepository) List(ctx context.Context, filter models.PayrollFilter) ([]models.PayrollDetail, int, error) {
	base := `FROM payroll_records p JOIN teachers t ON t.id = p.teacher_id`
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("p.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Month != 0 {
		conditions = append(conditions, fmt.Sprintf("p.month = $%d", len(args)+1))
		args = append(args, filter.Month)
	}
	if filter.Year != 0 {
		conditions = append(conditions, fmt.Sprintf("p.year = $%d", len(args)+1))
		args = append(args, filter.Year)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("p.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at": "p.created_at",
		"net_total":  "p.net_total",
		"teacher":    "t.full_name",
	}
	sortCol, ok := allowedSorts[filter.SortBy]
	if !ok {
		sortCol = "p.created_at"
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

	query := fmt.Sprintf(`SELECT p.id, p.teacher_id, p.month, p.year, p.credit_units, p.rate_per_unit,
        p.base_pay, p.incentive, p.deduction, p.net_total, p.status, p.created_at, p.updated_at,
        t.full_name AS teacher_name %s ORDER BY %s %s LIMIT %d OFFSET %d`,
		base+clause, sortCol, order, size, offset)

	var records []models.PayrollDetail
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payroll records: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payroll records: %w", err)
	}
	return records, total, nil
}
